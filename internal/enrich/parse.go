package enrich

import (
	"fmt"
	"math"
	"strings"

	payloadschema "horse.fit/leadscan/internal/schema"
)

const jsonReminder = "REMINDER: Respond with ONLY valid JSON matching the schema. No markdown, no code blocks, no extra text."

type analysisPayload struct {
	CompanyName    string  `json:"company_name"`
	EventSummary   string  `json:"event_summary"`
	TargetAudience string  `json:"target_audience"`
	FitReason      string  `json:"fit_reason"`
	LegacyFit      string  `json:"atv_fit_reason"`
	SalesAngle     string  `json:"sales_angle"`
	AIScore        float64 `json:"ai_score"`
	ContactEmail   *string `json:"contact_email"`
	ContactPhone   *string `json:"contact_phone"`
	PRAgency       *string `json:"pr_agency"`
	HomepageURL    *string `json:"homepage_url"`
}

// extractJSON strips markdown fences and keeps the outermost JSON object.
func extractJSON(text string) string {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")

	first := strings.Index(cleaned, "{")
	last := strings.LastIndex(cleaned, "}")
	if first != -1 && last > first {
		cleaned = cleaned[first : last+1]
	}
	return strings.TrimSpace(cleaned)
}

// ParseAnalysis validates a raw model reply and converts it into an Analysis.
// Errors wrap ErrMalformedResponse.
func ParseAnalysis(raw string) (Analysis, error) {
	jsonText := extractJSON(raw)

	var payload analysisPayload
	if err := payloadschema.Validate(payloadschema.AnalysisSchema, []byte(jsonText), &payload); err != nil {
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	fit := strings.TrimSpace(payload.FitReason)
	if fit == "" {
		fit = strings.TrimSpace(payload.LegacyFit)
	}

	return Analysis{
		CompanyName:    strings.TrimSpace(payload.CompanyName),
		EventSummary:   strings.TrimSpace(payload.EventSummary),
		TargetAudience: strings.TrimSpace(payload.TargetAudience),
		FitReason:      fit,
		SalesAngle:     strings.TrimSpace(payload.SalesAngle),
		AIScore:        clampScore(payload.AIScore),
		ContactEmail:   nullableText(payload.ContactEmail),
		ContactPhone:   nullableText(payload.ContactPhone),
		PRAgency:       nullableText(payload.PRAgency),
		HomepageURL:    nullableText(payload.HomepageURL),
	}, nil
}

func nullableText(v *string) string {
	if v == nil {
		return ""
	}
	trimmed := strings.TrimSpace(*v)
	if strings.EqualFold(trimmed, "null") {
		return ""
	}
	return trimmed
}

func clampScore(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	rounded := int(math.Round(v))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

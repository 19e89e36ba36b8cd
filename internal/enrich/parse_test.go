package enrich

import (
	"errors"
	"strings"
	"testing"
)

func TestParseAnalysisStripsFencesAndNulls(t *testing.T) {
	t.Parallel()

	raw := "Here you go:\n```json\n{\"company_name\":\" Acme \",\"event_summary\":\"launch\",\"target_audience\":\"teens\"," +
		"\"atv_fit_reason\":\"big budget\",\"sales_angle\":\"TV package\",\"ai_score\":87.6," +
		"\"contact_email\":\"null\",\"contact_phone\":null,\"pr_agency\":\"PR One\",\"homepage_url\":\"NULL\"}\n```\nThanks"

	got, err := ParseAnalysis(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.CompanyName != "Acme" || got.FitReason != "big budget" || got.AIScore != 88 {
		t.Fatalf("unexpected analysis: %+v", got)
	}
	if got.ContactEmail != "" || got.ContactPhone != "" || got.HomepageURL != "" {
		t.Fatalf("expected null-ish contacts to be empty: %+v", got)
	}
	if got.PRAgency != "PR One" {
		t.Fatalf("expected pr agency, got %q", got.PRAgency)
	}
}

func TestParseAnalysisRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "no json here", `{"company_name":"x"}`, `{"company_name":"x","event_summary":"e","target_audience":"t","fit_reason":"f","sales_angle":"s","ai_score":-5}`} {
		if _, err := ParseAnalysis(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("expected ErrMalformedResponse for %q, got %v", raw, err)
		}
	}
}

func TestBuildUserPromptAddsReminderWhenStrict(t *testing.T) {
	t.Parallel()

	plain := buildUserPrompt(Request{Title: "t", Content: "c", SourceTag: "RSS", Language: "ko"})
	strict := buildUserPrompt(Request{Title: "t", Content: "c", SourceTag: "RSS", Strict: true})
	if !strings.Contains(strict, jsonReminder) || strings.Contains(plain, jsonReminder) {
		t.Fatalf("reminder placement wrong")
	}
	if !strings.Contains(plain, "Language: ko") {
		t.Fatalf("expected language line in prompt")
	}
}

func TestChatCompletionsURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                                   "https://api.deepseek.com/v1/chat/completions",
		"https://api.deepseek.com":           "https://api.deepseek.com/chat/completions",
		"https://api.deepseek.com/v1/":       "https://api.deepseek.com/v1/chat/completions",
		"localhost:8000/v1/chat/completions": "https://localhost:8000/v1/chat/completions",
	}
	for in, want := range cases {
		if got := chatCompletionsURL(in); got != want {
			t.Fatalf("chatCompletionsURL(%q) = %q, want %q", in, got, want)
		}
	}
}

package payloadschema

import (
	"strings"
	"testing"
)

type analysisDoc struct {
	CompanyName string  `json:"company_name"`
	AIScore     float64 `json:"ai_score"`
}

func TestValidateAnalysis_Valid(t *testing.T) {
	payload := []byte(`{
		"company_name":"에이크미",
		"event_summary":"신제품 출시",
		"target_audience":"20대",
		"fit_reason":"대규모 캠페인 예정",
		"sales_angle":"런칭 TV 광고 제안",
		"ai_score":82,
		"contact_email":null,
		"homepage_url":"https://acme.example"
	}`)

	var doc analysisDoc
	if err := Validate(AnalysisSchema, payload, &doc); err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if doc.CompanyName != "에이크미" || doc.AIScore != 82 {
		t.Fatalf("unexpected decoded doc: %+v", doc)
	}
}

func TestValidateAnalysis_AcceptsLegacyFitReasonKey(t *testing.T) {
	payload := []byte(`{"company_name":"A","event_summary":"e","target_audience":"t","atv_fit_reason":"f","sales_angle":"s","ai_score":10}`)
	if err := Validate(AnalysisSchema, payload, nil); err != nil {
		t.Fatalf("expected atv_fit_reason payload to be valid, got %v", err)
	}
}

func TestValidateAnalysis_ScoreOutOfRange(t *testing.T) {
	payload := []byte(`{"company_name":"A","event_summary":"e","target_audience":"t","fit_reason":"f","sales_angle":"s","ai_score":140}`)
	if err := Validate(AnalysisSchema, payload, nil); err == nil {
		t.Fatalf("expected ai_score=140 to fail validation")
	}
}

func TestValidateAnalysis_MissingRequired(t *testing.T) {
	payload := []byte(`{"event_summary":"e","ai_score":10}`)
	if err := Validate(AnalysisSchema, payload, nil); err == nil {
		t.Fatalf("expected missing company_name to fail validation")
	}
}

func TestValidate_TrailingContent(t *testing.T) {
	err := Validate(SettingsSchema, []byte(`{"minScore":50} {"minScore":60}`), nil)
	if err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("expected trailing content error, got %v", err)
	}
}

func TestValidateSettings_RejectsWrongTypes(t *testing.T) {
	if err := Validate(SettingsSchema, []byte(`{"minScore":"high"}`), nil); err == nil {
		t.Fatalf("expected string minScore to fail")
	}
	if err := Validate(SettingsSchema, []byte(`{"rssFeeds":[{"category":"x"}]}`), nil); err == nil {
		t.Fatalf("expected feed without url to fail")
	}
	if err := Validate(SettingsSchema, []byte(`{"keywords":["a"," b "],"naverEnabled":true}`), nil); err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}

func TestValidate_UnknownSchema(t *testing.T) {
	if err := Validate("nope.schema.json", []byte(`{}`), nil); err == nil {
		t.Fatalf("expected unknown schema to fail")
	}
}

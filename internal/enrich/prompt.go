package enrich

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a sales intelligence analyst for a broadcast advertising and media sales team.

The team sells advertising strategy consulting, media planning and buying, campaign measurement
and broadcast advertising packages.

For the article you are given, identify:
1. company_name: the company or organization the article is about
2. event_summary: what is happening
3. target_audience: who the company is trying to reach
4. fit_reason: why advertising or media services would help them now
5. sales_angle: a concrete approach for outreach
6. ai_score (0-100): lead quality based on budget likelihood, decision timeline, service fit and
   how reachable the decision makers are
7. contact_email, contact_phone, pr_agency, homepage_url: public contact details if present

Output requirements:
- Output ONLY one JSON object, no markdown, no code fences, no commentary
- Write descriptive fields in the article's language; keep emails, phone numbers and URLs verbatim
- Use null for unknown contact fields
- If the article is unrelated to marketing or advertising, set ai_score to 0 but still fill the fields

Schema:
{"company_name":"","event_summary":"","target_audience":"","fit_reason":"","sales_angle":"","ai_score":0,
 "contact_email":null,"contact_phone":null,"pr_agency":null,"homepage_url":null}`

// maxPromptContent bounds the article body sent upstream.
const maxPromptContent = 6000

func buildUserPrompt(req Request) string {
	content := strings.TrimSpace(req.Content)
	if runes := []rune(content); len(runes) > maxPromptContent {
		content = string(runes[:maxPromptContent])
	}

	var b strings.Builder
	b.WriteString("Analyze this article for sales lead potential and contact info:\n\n")
	fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(req.Title))
	fmt.Fprintf(&b, "Content: %s\n", content)
	fmt.Fprintf(&b, "Source: %s\n", strings.TrimSpace(req.SourceTag))
	if lang := strings.TrimSpace(req.Language); lang != "" {
		fmt.Fprintf(&b, "Language: %s\n", lang)
	}
	b.WriteString("\nProvide the analysis in the exact JSON format specified.")
	if req.Strict {
		b.WriteString("\n\n")
		b.WriteString(jsonReminder)
	}
	return b.String()
}

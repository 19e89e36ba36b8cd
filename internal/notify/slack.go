package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string, client *http.Client) *SlackChannel {
	if client == nil {
		client = &http.Client{Timeout: defaultSlackTimeout}
	}
	return &SlackChannel{webhookURL: strings.TrimSpace(webhookURL), client: client}
}

func (c *SlackChannel) Name() string { return "slack" }

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

func mrkdwn(text string) slackText {
	return slackText{Type: "mrkdwn", Text: text}
}

func slackMessage(ev Event) slackPayload {
	return slackPayload{Blocks: []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("🎯 새로운 고점수 광고주 후보 발견! (%d점)", ev.Score), Emoji: true},
		},
		{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*기업명:*\n" + ev.Company),
				mrkdwn(fmt.Sprintf("*점수:*\n%d점", ev.Score)),
			},
		},
		{Type: "section", Text: ptrText(mrkdwn(fmt.Sprintf("*기사제목:*\n<%s|%s>", ev.Link, ev.Title)))},
		{Type: "section", Text: ptrText(mrkdwn("*영업전략:*\n" + ev.Angle))},
		{
			Type: "section",
			Fields: []slackText{
				mrkdwn("*이메일:*\n" + orDash(ev.Email)),
				mrkdwn("*연락처:*\n" + orDash(ev.Phone)),
			},
		},
	}}
}

func ptrText(t slackText) *slackText { return &t }

func (c *SlackChannel) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(slackMessage(ev))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

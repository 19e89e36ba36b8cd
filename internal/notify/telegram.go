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

const (
	TelegramAPIBase = "https://api.telegram.org"

	telegramSeparator = `\-\-\-\-\-\-\-\-\-\-\-\-\-\-\-\-\-\-`
)

type TelegramChannel struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramChannel(botToken, chatID string, client *http.Client) *TelegramChannel {
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	return &TelegramChannel{
		botToken: strings.TrimSpace(botToken),
		chatID:   strings.TrimSpace(chatID),
		apiBase:  TelegramAPIBase,
		client:   client,
	}
}

// WithAPIBase points the channel at another Bot API host.
func (c *TelegramChannel) WithAPIBase(base string) *TelegramChannel {
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

func (c *TelegramChannel) Name() string { return "telegram" }

var markdownV2Escaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// EscapeMarkdownV2 escapes the characters the MarkdownV2 parse mode reserves.
func EscapeMarkdownV2(text string) string {
	return markdownV2Escaper.Replace(text)
}

func telegramMessage(ev Event) string {
	lines := []string{
		`🎯 *새로운 고점수 광고주 후보 발견\!*`,
		telegramSeparator,
		"🏢 *기업:* " + EscapeMarkdownV2(ev.Company),
		fmt.Sprintf("⭐ *점수:* %d점", ev.Score),
		telegramSeparator,
		fmt.Sprintf("📰 *기사:* [%s](%s)", EscapeMarkdownV2(ev.Title), ev.Link),
		"💡 *전략:* " + EscapeMarkdownV2(ev.Angle),
		telegramSeparator,
		"📧 *이메일:* " + EscapeMarkdownV2(orDash(ev.Email)),
		"📞 *연락처:* " + EscapeMarkdownV2(orDash(ev.Phone)),
	}
	return strings.Join(lines, "\n")
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (c *TelegramChannel) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(telegramRequest{ChatID: c.chatID, Text: telegramMessage(ev), ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("encode telegram payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.apiBase, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The request URL embeds the bot token.
		return fmt.Errorf("send message: %w", redactToken(err, c.botToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram error %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

type redactedError struct{ msg string }

func (e redactedError) Error() string { return e.msg }

func redactToken(err error, token string) error {
	if err == nil || token == "" {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "[redacted]")}
}

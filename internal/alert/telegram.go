package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"

	apphttp "converter_strategy/pkg/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramChannel sends Markdown messages through the Bot API
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *apphttp.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return newTelegramChannel(telegramAPI, botToken, chatID)
}

func newTelegramChannel(baseURL, botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   apphttp.NewClientWithOptions(baseURL, apphttp.DefaultOptions()),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatTelegram(alert),
		"parse_mode": "Markdown",
	}
	_, err := t.client.PostJSON(ctx, "/bot"+t.botToken+"/sendMessage", payload)
	return err
}

func formatTelegram(alert AlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s] %s*\n\n%s", alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}
	return b.String()
}

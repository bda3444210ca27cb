package alert

import (
	"context"
	"fmt"

	apphttp "converter_strategy/pkg/http"
)

var slackColors = map[AlertLevel]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

// SlackChannel posts attachments to an incoming webhook
type SlackChannel struct {
	client *apphttp.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{client: apphttp.NewClientWithOptions(webhookURL, apphttp.DefaultOptions())}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	fields := make([]map[string]interface{}, 0, len(alert.Fields))
	for k, v := range alert.Fields {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": v,
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   slackColors[alert.Level],
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "converter_strategy",
			},
		},
	}
	_, err := s.client.PostJSON(ctx, "", payload)
	return err
}

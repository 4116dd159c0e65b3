package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
)

// WebhookNotifier POSTs emitted alerts as JSON to a webhook endpoint. With no
// URL configured it degrades to log-only delivery, which keeps the alert
// stream observable in development.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, alert *domain.Alert) error {
	if n.url == "" {
		n.log.Info("alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
			zap.String("subject", alert.SubjectKey),
			zap.String("message", alert.Message),
		)
		return nil
	}

	payload := map[string]interface{}{
		"id":        alert.ID,
		"type":      alert.Type,
		"severity":  alert.Severity,
		"subject":   alert.SubjectKey,
		"message":   alert.Message,
		"value":     alert.Value.String(),
		"threshold": alert.Threshold.String(),
		"timestamp": alert.Timestamp.Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

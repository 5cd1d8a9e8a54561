package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// OperatorNotifier tells operators a payout batch finished.
type OperatorNotifier interface {
	BatchCompleted(ctx context.Context, summary BatchSummary) error
}

// LogNotifier writes the batch summary to the process log.
type LogNotifier struct{}

func (LogNotifier) BatchCompleted(_ context.Context, s BatchSummary) error {
	log.Printf("[payout] batch %s done: considered=%d points=%d coupon=%d skipped=%d failed=%d below_min=%d total=%s",
		s.RunID, s.Considered, s.PaidPoints, s.PaidCoupon, s.Skipped, s.Failed, s.BelowMinimum, s.TotalPaid.StringFixed(2))
	return nil
}

// WebhookNotifier posts the batch summary as JSON to an operator channel.
type WebhookNotifier struct {
	URL    string
	client *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{URL: url, client: &http.Client{Timeout: timeout}}
}

func (n *WebhookNotifier) BatchCompleted(ctx context.Context, s BatchSummary) error {
	body, err := json.Marshal(map[string]interface{}{
		"event":   "payout_batch_completed",
		"summary": s,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify operator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify operator: status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}

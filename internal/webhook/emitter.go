package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eco-challenge-rewards-go/internal/httpclient"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventPointsEarned      = "points.earned"
	EventChallengeApproved = "challenge.approved"
)

// Event is the JSON envelope posted to the partner.
type Event struct {
	Id         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// Emitter delivers events best-effort. Emit errors are for the caller's
// effect report only.
type Emitter interface {
	Emit(ctx context.Context, eventType string, data any) error
}

// Noop is used when no webhook URL is configured.
type Noop struct{}

func (Noop) Emit(context.Context, string, any) error { return nil }

type HTTPEmitter struct {
	url    string
	token  string
	client *http.Client
	retry  time.Duration
}

var _ Emitter = (*HTTPEmitter)(nil)

// New returns Noop when url is empty.
func New(url, token string, timeout time.Duration) (Emitter, error) {
	if url == "" {
		return Noop{}, nil
	}
	client, err := httpclient.New(timeout)
	if err != nil {
		return nil, err
	}
	return &HTTPEmitter{url: url, token: token, client: client, retry: 200 * time.Millisecond}, nil
}

func (e *HTTPEmitter) Emit(ctx context.Context, eventType string, data any) error {
	event := Event{
		Id:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("unable to encode webhook event: %w", err)
	}

	status, err := e.post(ctx, event, payload)
	if err == nil && status >= 500 {
		// one retry on server errors
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.retry):
		}
		status, err = e.post(ctx, event, payload)
	}

	switch {
	case err != nil:
		zap.L().Warn("Webhook delivery failed",
			zap.String("event_id", event.Id),
			zap.String("event_type", eventType),
			zap.Error(err))
		return err
	case status < 200 || status > 299:
		zap.L().Warn("Webhook rejected",
			zap.String("event_id", event.Id),
			zap.String("event_type", eventType),
			zap.Int("status", status))
		return fmt.Errorf("webhook returned status %d", status)
	}

	zap.L().Debug("Webhook delivered",
		zap.String("event_id", event.Id),
		zap.String("event_type", eventType))
	return nil
}

func (e *HTTPEmitter) post(ctx context.Context, event Event, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", e.token)
	req.Header.Set("X-Webhook-Type", event.Type)
	req.Header.Set("X-Webhook-Id", event.Id)

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if closeErr := resp.Body.Close(); closeErr != nil {
		zap.L().Warn("Failed to close webhook response body", zap.Error(closeErr))
	}
	return resp.StatusCode, nil
}

package issuer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/httpclient"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	earnPath          = "/api/integration/hanamoney-earn"
	requestingService = "GREEN_WORLD"
)

type earnRequest struct {
	CustomerInfoToken string          `json:"customerInfoToken"`
	RequestingService string          `json:"requestingService"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description"`
	IdempotencyKey    string          `json:"idempotencyKey"`
}

type earnResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		CurrentPoints json.Number `json:"currentPoints"`
	} `json:"data"`
}

// HTTPIssuer posts conversions to the partner card service.
type HTTPIssuer struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Issuer = (*HTTPIssuer)(nil)

func NewHTTPIssuer(baseURL, serviceToken string, timeout time.Duration) (*HTTPIssuer, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ISSUER_BASE_URL is required for the http issuer")
	}
	client, err := httpclient.New(timeout)
	if err != nil {
		return nil, err
	}
	return &HTTPIssuer{baseURL: strings.TrimRight(baseURL, "/"), token: serviceToken, client: client}, nil
}

func (h *HTTPIssuer) Issue(ctx context.Context, req Request) (*Receipt, error) {
	payload, err := json.Marshal(earnRequest{
		CustomerInfoToken: base64.StdEncoding.EncodeToString([]byte(req.UserId)),
		RequestingService: requestingService,
		Amount:            req.Amount,
		Description:       req.Description,
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to encode issuance request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+earnPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Internal-Service", h.token)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("issuance request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			zap.L().Warn("Failed to close issuer response body", zap.Error(closeErr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("unable to read issuance response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("issuance rejected with status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var body earnResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("unable to decode issuance response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("issuance rejected: %s", body.Message)
	}

	zap.L().Info("External balance credited",
		zap.String("user_id", req.UserId),
		zap.String("amount", req.Amount.String()),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("partner_balance", body.Data.CurrentPoints.String()))

	return &Receipt{Reference: req.IdempotencyKey, Amount: req.Amount}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

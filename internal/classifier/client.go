package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"eco-challenge-rewards-go/internal/httpclient"
	"eco-challenge-rewards-go/internal/models"

	"go.uber.org/zap"
)

const (
	verifyPath       = "/verify-challenge-image"
	maxResponseBytes = 1 << 20
)

var (
	ErrTransport = errors.New("classifier transport failure")
	ErrResponse  = errors.New("classifier response invalid")
)

// Request is one image to classify against a challenge.
type Request struct {
	Image          []byte
	ContentType    string
	ChallengeTitle string
	ChallengeCode  string
}

// Result is the classifier outcome. Success is false on any transport or
// parse failure; the other fields are then zero.
type Result struct {
	Success       bool
	Verdict       models.Verdict
	Confidence    float64
	Explanation   string
	DetectedItems []string
}

// Classifier is the boundary to the external image model.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// response mirrors the wire JSON of the model service.
type response struct {
	Success            bool     `json:"success"`
	VerificationResult string   `json:"verification_result"`
	Confidence         float64  `json:"confidence"`
	Explanation        string   `json:"explanation"`
	DetectedItems      []string `json:"detected_items"`
	Error              string   `json:"error"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

var _ Classifier = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("classifier base url is required")
	}
	hc, err := httpclient.New(timeout)
	if err != nil {
		return nil, err
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

func (c *Client) Classify(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	body, contentType, err := encodeMultipart(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+verifyPath, body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		zap.L().Warn("Classifier request failed",
			zap.String("challenge_code", req.ChallengeCode),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			zap.L().Warn("Failed to close classifier response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}

	result, err := decode(raw)
	if err != nil {
		zap.L().Warn("Classifier response rejected",
			zap.String("challenge_code", req.ChallengeCode),
			zap.Error(err))
		return Result{}, err
	}

	zap.L().Info("Image classified",
		zap.String("challenge_code", req.ChallengeCode),
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

func decode(raw []byte) (Result, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrResponse, err)
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "success=false"
		}
		return Result{}, fmt.Errorf("%w: %s", ErrResponse, msg)
	}

	verdict, err := models.ParseVerdict(strings.ToUpper(strings.TrimSpace(r.VerificationResult)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrResponse, err)
	}

	return Result{
		Success:       true,
		Verdict:       verdict,
		Confidence:    max(0, min(1, r.Confidence)),
		Explanation:   r.Explanation,
		DetectedItems: r.DetectedItems,
	}, nil
}

func encodeMultipart(req Request) (io.Reader, string, error) {
	if len(req.Image) == 0 {
		return nil, "", fmt.Errorf("image is empty")
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(req.Image)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="challenge_image"`)
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("challengeTitle", req.ChallengeTitle); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("challengeCode", req.ChallengeCode); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

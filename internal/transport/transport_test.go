package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/api"
	"eco-challenge-rewards-go/internal/classifier"
	"eco-challenge-rewards-go/internal/database"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret       = "test-secret"
	testServiceToken = "partner-token"
)

type approvingClassifier struct{}

func (approvingClassifier) Classify(context.Context, classifier.Request) (classifier.Result, error) {
	return classifier.Result{
		Success:     true,
		Verdict:     models.VerdictApproved,
		Confidence:  0.92,
		Explanation: "tumbler on the desk",
	}, nil
}

type server struct {
	router *gin.Engine
	db     *database.Service
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	images, err := imagestore.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	require.NoError(t, db.UpsertChallenge(ctx, models.Challenge{
		Id:           "tumbler",
		Code:         "TUMBLER",
		Title:        "Bring a tumbler",
		RewardPolicy: models.RewardPoints,
		Points:       10,
		CarbonSaved:  0.2,
		Active:       true,
	}))

	svc := verification.NewService(verification.Dependencies{
		Store:      db,
		Images:     images,
		Classifier: approvingClassifier{},
	}, verification.Options{RegisterHashOnApprovalOnly: true})
	ledger := api.NewLedgerService(api.LedgerDependencies{Store: db}, models.LedgerConfig{})

	router := NewRouter(Config{
		HTTP:          models.HTTPConfig{GinMode: "test", RateLimitPerMinute: 600},
		Auth:          models.AuthConfig{JWTSecret: testSecret, InternalServiceToken: testServiceToken},
		MaxImageBytes: 1 << 20,
	}, svc, ledger)

	return &server{router: router, db: db}
}

func token(t *testing.T, userId, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserId: userId,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *server) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func jsonRequest(method, path, bearer string, payload any) *http.Request {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func uploadRequest(t *testing.T, path, bearer string) *http.Request {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	img.Set(1, 1, color.RGBA{B: 200, A: 255})
	var pngData bytes.Buffer
	require.NoError(t, png.Encode(&pngData, img))

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "tumbler.png")
	require.NoError(t, err)
	_, err = part.Write(pngData.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearer)
	return req
}

// decode re-marshals the envelope data into out.
func decode(t *testing.T, data any, out any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealthAndUnknownRoute(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, codeOK, body.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIdHeader))

	rec, body = s.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeRouteNotFound, body.Code)
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, jsonRequest(http.MethodGet, "/api/v1/challenges", "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeMissingToken, body.Code)

	rec, body = s.do(t, jsonRequest(http.MethodGet, "/api/v1/challenges", "not-a-jwt", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeInvalidToken, body.Code)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserId: "u1"}).SignedString([]byte("other"))
	require.NoError(t, err)
	rec, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/challenges", forged, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/records/needs-review", token(t, "u1", "USER"), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbiddenRole, body.Code)

	rec, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/records/needs-review", token(t, "a1", models.RoleAdmin), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, jsonRequest(http.MethodGet, "/api/v1/admin/points/balances", token(t, "a1", models.RoleAdmin), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParticipateVerifyAndBalance(t *testing.T) {
	s := newServer(t)
	bearer := token(t, "u1", "USER")

	rec, body := s.do(t, uploadRequest(t, "/api/v1/challenges/tumbler/participate", bearer))
	require.Equal(t, http.StatusOK, rec.Code, body.Message)
	var participation models.ParticipationResult
	decode(t, body.Data, &participation)
	assert.Equal(t, models.StatusPending, participation.Status)

	rec, body = s.do(t, jsonRequest(http.MethodPost, "/api/v1/records/"+participation.RecordId+"/verify", token(t, "u2", "USER"), nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeNotOwner, body.Code)

	rec, body = s.do(t, jsonRequest(http.MethodPost, "/api/v1/records/"+participation.RecordId+"/verify", bearer, nil))
	require.Equal(t, http.StatusOK, rec.Code, body.Message)
	var result models.VerificationResult
	decode(t, body.Data, &result)
	assert.Equal(t, models.StatusApproved, result.Status)
	require.NotNil(t, result.PointsAwarded)
	assert.Equal(t, int64(10), *result.PointsAwarded)

	rec, body = s.do(t, jsonRequest(http.MethodPost, "/api/v1/records/"+participation.RecordId+"/verify", bearer, nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeInvalidState, body.Code)

	rec, body = s.do(t, jsonRequest(http.MethodGet, "/api/v1/points/balance", bearer, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var balance models.BalanceView
	decode(t, body.Data, &balance)
	assert.Equal(t, int64(10), balance.CurrentBalance)

	rec, body = s.do(t, jsonRequest(http.MethodGet, "/api/v1/challenges", bearer, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var views []models.ChallengeView
	decode(t, body.Data, &views)
	require.Len(t, views, 1)
	assert.True(t, views[0].Participated)
	assert.Equal(t, models.StatusApproved, views[0].Status)
}

func TestParticipateErrors(t *testing.T) {
	s := newServer(t)
	bearer := token(t, "u1", "USER")

	rec, body := s.do(t, jsonRequest(http.MethodPost, "/api/v1/challenges/missing/participate", bearer, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeChallengeNotFound, body.Code)

	rec, body = s.do(t, jsonRequest(http.MethodPost, "/api/v1/challenges/tumbler/participate", bearer, map[string]any{"step_count": -3}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidRequest, body.Code)
}

func TestConvertInsufficientBalance(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, jsonRequest(http.MethodPost, "/api/v1/points/convert", token(t, "u1", "USER"), map[string]any{"amount": 50}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, codeInsufficientBalance, body.Code)
}

func TestPartnerEarn(t *testing.T) {
	s := newServer(t)
	payload := map[string]any{
		"user_id":     "u1",
		"category":    "walking",
		"amount":      25,
		"description": "5k steps",
		"reference":   "walk-2026-10-15-u1",
	}

	rec, body := s.do(t, jsonRequest(http.MethodPost, "/internal/v1/points/earn", "", payload))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, codeBadServiceToken, body.Code)

	earn := func() (*httptest.ResponseRecorder, Response) {
		req := jsonRequest(http.MethodPost, "/internal/v1/points/earn", "", payload)
		req.Header.Set(internalServiceHeader, testServiceToken)
		return s.do(t, req)
	}

	rec, body = earn()
	require.Equal(t, http.StatusOK, rec.Code, body.Message)

	rec, body = earn()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeDuplicateTransaction, body.Code)

	b, err := s.db.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), b.CurrentBalance)
}

func TestRateLimiterPerUser(t *testing.T) {
	r := newRateLimiter(2)
	now := time.Now()

	assert.True(t, r.allow("u1", now))
	assert.False(t, r.allow("u1", now))
	assert.True(t, r.allow("u2", now))
	assert.True(t, r.allow("u1", now.Add(31*time.Second)))
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserId: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = parseToken([]byte(testSecret), unsigned)
	assert.Error(t, err)

	claims, err := parseToken([]byte(testSecret), token(t, "u1", models.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserId)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

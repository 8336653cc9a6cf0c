package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/database"
	"eco-challenge-rewards-go/internal/issuer"
	"eco-challenge-rewards-go/internal/lock"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"
	"eco-challenge-rewards-go/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingIssuer struct {
	mu       sync.Mutex
	requests []issuer.Request
	err      error
}

func (i *recordingIssuer) Issue(_ context.Context, req issuer.Request) (*issuer.Receipt, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.requests = append(i.requests, req)
	if i.err != nil {
		return nil, i.err
	}
	return &issuer.Receipt{Reference: "ext-" + req.IdempotencyKey, Amount: req.Amount}, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
}

func (e *recordingEmitter) Emit(_ context.Context, eventType string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
	return nil
}

// brokenDebit lets issuance succeed and then loses the local write.
type brokenDebit struct {
	store.Store
}

func (brokenDebit) Debit(context.Context, store.DebitParams) (*models.PointTransaction, error) {
	return nil, errors.New("disk full")
}

func setupLedger(t *testing.T) (*database.Service, *recordingIssuer, *LedgerService) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	iss := &recordingIssuer{}
	svc := NewLedgerService(LedgerDependencies{Store: db, Issuer: iss}, models.LedgerConfig{
		ConversionRate: decimal.RequireFromString("1.5"),
	})
	return db, iss, svc
}

func earn(t *testing.T, svc *LedgerService, userId string, amount int64, reference string) {
	t.Helper()
	_, err := svc.Credit(context.Background(), CreditRequest{
		UserId:    userId,
		Category:  models.CategoryDailyQuiz,
		Amount:    amount,
		Reference: reference,
	})
	require.NoError(t, err)
}

func TestCreditValidation(t *testing.T) {
	_, _, svc := setupLedger(t)
	ctx := context.Background()

	_, err := svc.Credit(ctx, CreditRequest{UserId: "alice", Category: models.CategoryWalking, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Credit(ctx, CreditRequest{UserId: "alice", Category: "LOTTERY", Amount: 5})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Credit(ctx, CreditRequest{Category: models.CategoryWalking, Amount: 5})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPartnerEarnWithRepeatedReferenceCreditsOnce(t *testing.T) {
	db, iss, _ := setupLedger(t)
	emitter := &recordingEmitter{}
	svc := NewLedgerService(LedgerDependencies{Store: db, Issuer: iss, Webhook: emitter}, models.LedgerConfig{})
	ctx := context.Background()

	req := CreditRequest{
		UserId:      "alice",
		Category:    models.CategoryEcoMerchant,
		Amount:      40,
		Description: "Refill shop purchase",
		Reference:   "merchant-order-77",
	}
	record, err := svc.CreditFromPartner(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(40), record.BalanceAfter)

	_, err = svc.CreditFromPartner(ctx, req)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	balance, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance.CurrentBalance)
	assert.Equal(t, []string{webhook.EventPointsEarned}, emitter.events)

	_, err = svc.CreditFromPartner(ctx, CreditRequest{UserId: "alice", Category: models.CategoryEcoMerchant, Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCreditSyncsTeamPoints(t *testing.T) {
	db, _, svc := setupLedger(t)
	ctx := context.Background()

	team, err := db.CreateTeam(ctx, models.Team{Name: "Green", LeaderId: "alice"})
	require.NoError(t, err)

	earn(t, svc, "alice", 25, "")

	aggregate, err := db.GetTeamAggregate(ctx, team.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(25), aggregate.TotalPoints)
}

func TestConvert(t *testing.T) {
	_, iss, svc := setupLedger(t)
	ctx := context.Background()
	earn(t, svc, "alice", 100, "quiz-1")

	result, err := svc.Convert(ctx, "alice", 60)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(40), result.NewBalance)
	assert.True(t, decimal.RequireFromString("90").Equal(result.IssuedAmount), result.IssuedAmount.String())
	assert.NotEmpty(t, result.TransactionId)

	require.Len(t, iss.requests, 1)
	assert.Equal(t, int64(60), iss.requests[0].Points)
	assert.NotEmpty(t, iss.requests[0].IdempotencyKey)

	history, err := svc.GetTransactionHistory(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TransactionConvert, history[0].Type)
	assert.Equal(t, int64(-60), history[0].Amount)

	require.NoError(t, svc.Reconcile(ctx, "alice"))

	stats, err := svc.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.LifetimeEarned)
	assert.Equal(t, models.LevelBeginner, stats.Level)
	assert.Equal(t, int64(4900), stats.PointsToNextLevel)
}

func TestConvertRejections(t *testing.T) {
	_, iss, svc := setupLedger(t)
	ctx := context.Background()
	earn(t, svc, "alice", 10, "")

	_, err := svc.Convert(ctx, "alice", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Convert(ctx, "alice", 11)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, iss.requests)
}

func TestConvertWithFailingIssuerLeavesLedgerUnchanged(t *testing.T) {
	_, iss, svc := setupLedger(t)
	ctx := context.Background()
	earn(t, svc, "alice", 50, "")
	iss.err = errors.New("partner unavailable")

	_, err := svc.Convert(ctx, "alice", 20)
	assert.ErrorIs(t, err, ErrIssuanceFailed)

	balance, err := svc.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance.CurrentBalance)

	history, err := svc.GetTransactionHistory(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestConvertWithDisabledIssuer(t *testing.T) {
	db, _, _ := setupLedger(t)
	svc := NewLedgerService(LedgerDependencies{Store: db}, models.LedgerConfig{})
	earn(t, svc, "alice", 50, "")

	_, err := svc.Convert(context.Background(), "alice", 20)
	assert.ErrorIs(t, err, ErrIssuanceFailed)
	assert.ErrorIs(t, err, issuer.ErrDisabled)
}

func TestConvertUnrecordedAfterIssuance(t *testing.T) {
	db, iss, _ := setupLedger(t)
	svc := NewLedgerService(LedgerDependencies{Store: brokenDebit{db}, Issuer: iss}, models.LedgerConfig{})
	earn(t, svc, "alice", 50, "")

	_, err := svc.Convert(context.Background(), "alice", 20)
	assert.ErrorIs(t, err, ErrConversionUnrecorded)
	assert.Len(t, iss.requests, 1)
}

func TestConvertInProgress(t *testing.T) {
	db, iss, _ := setupLedger(t)
	locker := lock.NewLocalLocker()
	svc := NewLedgerService(LedgerDependencies{Store: db, Issuer: iss, Locker: locker}, models.LedgerConfig{})
	earn(t, svc, "alice", 50, "")

	release, err := locker.Acquire(context.Background(), "convert:alice", time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = svc.Convert(context.Background(), "alice", 20)
	assert.ErrorIs(t, err, ErrConversionInProgress)
	assert.Empty(t, iss.requests)
}

func TestHealthCheck(t *testing.T) {
	_, _, svc := setupLedger(t)
	assert.NoError(t, svc.HealthCheck(context.Background()))
}

package verification

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/capture"
	"eco-challenge-rewards-go/internal/classifier"
	"eco-challenge-rewards-go/internal/database"
	"eco-challenge-rewards-go/internal/imagestore"
	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryImages struct {
	mu     sync.Mutex
	images map[string]*imagestore.Image
	fail   error
}

func newMemoryImages() *memoryImages {
	return &memoryImages{images: make(map[string]*imagestore.Image)}
}

func (m *memoryImages) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem://" + key
	m.images[ref] = &imagestore.Image{Data: data, ContentType: contentType}
	return ref, nil
}

func (m *memoryImages) Get(_ context.Context, ref string) (*imagestore.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	img, ok := m.images[ref]
	if !ok {
		return nil, imagestore.ErrNotFound
	}
	return img, nil
}

type stubClassifier struct {
	mu     sync.Mutex
	calls  int
	result classifier.Result
	err    error
}

func (c *stubClassifier) Classify(context.Context, classifier.Request) (classifier.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.result, c.err
}

func approving(confidence float64) *stubClassifier {
	return &stubClassifier{result: classifier.Result{
		Success:       true,
		Verdict:       models.VerdictApproved,
		Confidence:    confidence,
		Explanation:   "a reusable bag is visible",
		DetectedItems: []string{"bag"},
	}}
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, string, any) error {
	return errors.New("webhook down")
}

type fixture struct {
	svc    *Service
	db     *database.Service
	images *memoryImages
	ai     *stubClassifier
}

func newFixture(t *testing.T, ai *stubClassifier, policy capture.Policy) *fixture {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	images := newMemoryImages()
	svc := NewService(Dependencies{
		Store:      db,
		Images:     images,
		Validator:  capture.NewValidator(policy),
		Classifier: ai,
	}, Options{RegisterHashOnApprovalOnly: true})

	return &fixture{svc: svc, db: db, images: images, ai: ai}
}

func (f *fixture) challenge(t *testing.T, c models.Challenge) models.Challenge {
	t.Helper()
	if c.Code == "" {
		c.Code = strings.ToUpper(c.Id)
	}
	if c.Title == "" {
		c.Title = "Reusable bag"
	}
	if c.RewardPolicy == "" {
		c.RewardPolicy = models.RewardPoints
	}
	c.Active = true
	require.NoError(t, f.db.UpsertChallenge(context.Background(), c))
	return c
}

// photo encodes a PNG without EXIF; shade keeps fingerprints distinct.
func photo(t *testing.T, shade uint8) *UploadedImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	img.Set(2, 2, color.RGBA{G: shade, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &UploadedImage{Data: buf.Bytes(), ContentType: "image/png"}
}

func (f *fixture) participate(t *testing.T, userId, challengeId string, img *UploadedImage) string {
	t.Helper()
	res, err := f.svc.Participate(context.Background(), ParticipateRequest{
		UserId:      userId,
		ChallengeId: challengeId,
		Image:       img,
	})
	require.NoError(t, err)
	return res.RecordId
}

func (f *fixture) balance(t *testing.T, userId string) int64 {
	t.Helper()
	b, err := f.db.GetBalance(context.Background(), userId)
	require.NoError(t, err)
	return b.CurrentBalance
}

func TestParticipateOutsideWindow(t *testing.T) {
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(48 * time.Hour)
	f.challenge(t, models.Challenge{Id: "ended", Points: 10, EndAt: &past})
	f.challenge(t, models.Challenge{Id: "upcoming", Points: 10, StartAt: &future})

	_, err := f.svc.Participate(context.Background(), ParticipateRequest{UserId: "alice", ChallengeId: "ended"})
	assert.ErrorIs(t, err, ErrChallengeNotActive)

	_, err = f.svc.Participate(context.Background(), ParticipateRequest{UserId: "alice", ChallengeId: "upcoming"})
	assert.ErrorIs(t, err, ErrChallengeNotStarted)

	_, err = f.svc.Participate(context.Background(), ParticipateRequest{UserId: "alice", ChallengeId: "missing"})
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestApprovedVerificationCreditsPoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10, CarbonSaved: 0.5})

	recordId := f.participate(t, "alice", "bag", photo(t, 10))

	rec, err := f.db.GetRecord(ctx, recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)

	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Status)
	require.NotNil(t, result.PointsAwarded)
	assert.Equal(t, int64(10), *result.PointsAwarded)
	assert.Contains(t, result.Message, "90%")
	require.NotNil(t, result.VerifiedAt)

	assert.Len(t, result.Effects, 4)
	for _, e := range result.Effects {
		assert.False(t, e.Failed(), e.Name)
	}

	assert.Equal(t, int64(10), f.balance(t, "alice"))

	stats, err := f.svc.ImageHashStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalImages)

	rec, err = f.db.GetRecord(ctx, recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, rec.Status)
	assert.Equal(t, []string{"bag"}, rec.AiDetectedItems)
	assert.NotEmpty(t, rec.ImageHash)
}

func TestParticipationWithoutImageAutoApproves(t *testing.T) {
	ctx := context.Background()
	ai := approving(0.9)
	f := newFixture(t, ai, capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "steps", Points: 5})

	steps := int64(8000)
	res, err := f.svc.Participate(ctx, ParticipateRequest{UserId: "alice", ChallengeId: "steps", StepCount: &steps})
	require.NoError(t, err)
	assert.Equal(t, models.StatusParticipated, res.Status)

	result, err := f.svc.StartVerification(ctx, "alice", res.RecordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Status)
	assert.Nil(t, result.Confidence)
	assert.Equal(t, "Participation confirmed. 5 points awarded.", result.Message)
	assert.Zero(t, ai.calls)
	assert.Equal(t, int64(5), f.balance(t, "alice"))
}

func TestSameUserReuseIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})
	f.challenge(t, models.Challenge{Id: "tumbler", Points: 10})

	img := photo(t, 20)
	first := f.participate(t, "alice", "bag", img)
	_, err := f.svc.StartVerification(ctx, "alice", first)
	require.NoError(t, err)

	second := f.participate(t, "alice", "tumbler", img)
	result, err := f.svc.StartVerification(ctx, "alice", second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.0, *result.Confidence)
	assert.Equal(t, "previously used image", result.Explanation)
	assert.Equal(t, int64(10), f.balance(t, "alice"))

	// a rejected record can be resubmitted the same day
	again, err := f.svc.Participate(ctx, ParticipateRequest{UserId: "alice", ChallengeId: "tumbler", Image: photo(t, 21)})
	require.NoError(t, err)
	assert.Equal(t, second, again.RecordId)
	assert.Equal(t, models.StatusPending, again.Status)
}

func TestResubmissionKeepsParticipationTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubClassifier{result: classifier.Result{
		Success: true, Verdict: models.VerdictRejected, Confidence: 0.2, Explanation: "no bag visible",
	}}, capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	joined := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := joined
	f.svc.now = func() time.Time { return clock }

	recordId := f.participate(t, "alice", "bag", photo(t, 25))
	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, result.Status)

	clock = joined.Add(time.Hour)
	again, err := f.svc.Participate(ctx, ParticipateRequest{UserId: "alice", ChallengeId: "bag", Image: photo(t, 26)})
	require.NoError(t, err)
	assert.Equal(t, recordId, again.RecordId)

	rec, err := f.db.GetRecord(ctx, recordId)
	require.NoError(t, err)
	assert.True(t, rec.ParticipatedAt.Equal(joined), "participated_at moved to %v", rec.ParticipatedAt)

	// a photo taken between joining and resubmitting is still in the window
	taken := joined.Add(30 * time.Minute)
	score := capture.Score(capture.Metadata{CaptureTime: &taken}, rec.ParticipatedAt, clock, f.svc.validator.Policy())
	assert.Equal(t, "capture_in_window", score.Signals[0].Name)
}

func TestOtherUserReuseIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	img := photo(t, 30)
	first := f.participate(t, "alice", "bag", img)
	_, err := f.svc.StartVerification(ctx, "alice", first)
	require.NoError(t, err)

	copied := f.participate(t, "bob", "bag", img)
	result, err := f.svc.StartVerification(ctx, "bob", copied)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.1, *result.Confidence)
	assert.Zero(t, f.balance(t, "bob"))
}

func TestWeakMetadataNeedsReview(t *testing.T) {
	ctx := context.Background()
	policy := capture.DefaultPolicy()
	policy.Threshold = 0.9
	ai := approving(0.9)
	f := newFixture(t, ai, policy)
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 40))
	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, result.Status)
	assert.True(t, strings.HasPrefix(result.Explanation, "Metadata review required: "))
	assert.Zero(t, ai.calls)

	_, err = f.svc.Participate(ctx, ParticipateRequest{UserId: "alice", ChallengeId: "bag", Image: photo(t, 41)})
	assert.ErrorIs(t, err, ErrAlreadyParticipatedToday)
}

func TestImageFetchFailureNeedsReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 50))
	f.images.fail = errors.New("bucket unavailable")

	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.0, *result.Confidence)
}

func TestClassifierTimeoutThenAdminApprove(t *testing.T) {
	ctx := context.Background()
	ai := &stubClassifier{err: context.DeadlineExceeded}
	f := newFixture(t, ai, capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 60))
	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.0, *result.Confidence)
	assert.Equal(t, "AI verification failed.", result.Explanation)

	queue, err := f.svc.ListNeedsReview(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, recordId, queue[0].Id)

	approved, err := f.svc.AdminApprove(ctx, recordId, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, int64(10), f.balance(t, "alice"))

	_, err = f.svc.AdminApprove(ctx, recordId, "admin")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int64(10), f.balance(t, "alice"))

	// the stored fingerprint is registered on admin approval
	stats, err := f.svc.ImageHashStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalImages)
}

func TestAdminRejectKeepsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubClassifier{result: classifier.Result{
		Success: true, Verdict: models.VerdictNeedsReview, Confidence: 0.5,
	}}, capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 70))
	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	require.Equal(t, models.StatusNeedsReview, result.Status)

	rejected, err := f.svc.AdminReject(ctx, recordId, "admin", "bag not visible")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	rec, err := f.db.GetRecord(ctx, recordId)
	require.NoError(t, err)
	assert.Equal(t, "bag not visible", rec.AiExplanation)
	require.NotNil(t, rec.VerifiedAt)
	assert.Zero(t, f.balance(t, "alice"))
}

func TestVerificationGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 80))

	_, err := f.svc.StartVerification(ctx, "bob", recordId)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.StartVerification(ctx, "alice", "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	_, err = f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)

	_, err = f.svc.StartVerification(ctx, "alice", recordId)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.AdminReject(ctx, recordId, "admin", "")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, int64(10), f.balance(t, "alice"))
}

func TestTerminalRecordOnClosedChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	c := f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 85))
	_, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)

	ended := time.Now().Add(-time.Hour)
	c.EndAt = &ended
	f.challenge(t, c)

	_, err = f.svc.StartVerification(ctx, "alice", recordId)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentVerificationCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.95), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 90))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.StartVerification(ctx, "alice", recordId)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(10), f.balance(t, "alice"))

	history, err := f.db.GetTransactionHistory(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTeamScoreChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{
		Id:           "plugging",
		RewardPolicy: models.RewardTeamScore,
		TeamScore:    30,
		CarbonSaved:  1.5,
		LeaderOnly:   true,
	})

	team, err := f.db.CreateTeam(ctx, models.Team{Name: "Green", LeaderId: "lead"})
	require.NoError(t, err)
	require.NoError(t, f.db.AddTeamMember(ctx, team.Id, "member"))

	_, err = f.svc.Participate(ctx, ParticipateRequest{UserId: "member", ChallengeId: "plugging", TeamId: team.Id})
	assert.ErrorIs(t, err, ErrNotTeamLeader)

	_, err = f.svc.Participate(ctx, ParticipateRequest{UserId: "stranger", ChallengeId: "plugging", TeamId: team.Id})
	assert.ErrorIs(t, err, ErrNotTeamMember)

	// the team falls back to the caller's active team
	res, err := f.svc.Participate(ctx, ParticipateRequest{UserId: "lead", ChallengeId: "plugging", Image: photo(t, 100)})
	require.NoError(t, err)

	result, err := f.svc.StartVerification(ctx, "lead", res.RecordId)
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, result.Status)
	assert.Equal(t, int64(30), *result.TeamScoreAwarded)
	assert.Equal(t, int64(0), *result.PointsAwarded)
	assert.Zero(t, f.balance(t, "lead"))

	overview, err := f.svc.GetTeamOverview(ctx, "member", team.Id)
	require.NoError(t, err)
	require.NotNil(t, overview.Aggregate)
	assert.Equal(t, int64(30), overview.Aggregate.TotalPoints)
	assert.InDelta(t, 1.5, overview.Aggregate.TotalCarbonSaved, 1e-9)

	records, err := f.svc.ListTeamParticipations(ctx, "member", team.Id)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = f.svc.ListTeamParticipations(ctx, "stranger", team.Id)
	assert.ErrorIs(t, err, ErrNotTeamMember)
}

func TestEffectFailureDoesNotChangeResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.svc.webhook = failingEmitter{}
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	recordId := f.participate(t, "alice", "bag", photo(t, 110))
	result, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, result.Status)

	var webhookOutcome *models.EffectOutcome
	for i := range result.Effects {
		if result.Effects[i].Name == effectWebhook {
			webhookOutcome = &result.Effects[i]
		}
	}
	require.NotNil(t, webhookOutcome)
	assert.True(t, webhookOutcome.Failed())
	assert.Equal(t, int64(10), f.balance(t, "alice"))
}

func TestRecoverStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})

	stuck := f.participate(t, "alice", "bag", photo(t, 120))
	pending := f.participate(t, "bob", "bag", photo(t, 121))

	require.NoError(t, f.db.TransitionRecord(ctx, store.TransitionParams{
		RecordId: stuck,
		From:     []models.VerificationStatus{models.StatusPending},
		To:       models.StatusVerifying,
		At:       time.Now().Add(-time.Hour),
	}))

	n, err := f.svc.RecoverStale(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := f.db.GetRecord(ctx, stuck)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, rec.Status)
	assert.Equal(t, interruptedReason, rec.AiExplanation)

	rec, err = f.db.GetRecord(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
}

func TestListActiveChallengesShowsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approving(0.9), capture.DefaultPolicy())
	f.challenge(t, models.Challenge{Id: "bag", Points: 10})
	f.challenge(t, models.Challenge{Id: "tumbler", Points: 10})
	past := time.Now().Add(-time.Hour)
	f.challenge(t, models.Challenge{Id: "ended", Points: 10, EndAt: &past})

	recordId := f.participate(t, "alice", "bag", photo(t, 130))
	_, err := f.svc.StartVerification(ctx, "alice", recordId)
	require.NoError(t, err)

	views, err := f.svc.ListActiveChallenges(ctx, "alice")
	require.NoError(t, err)

	byId := make(map[string]models.ChallengeView)
	for _, v := range views {
		byId[v.Challenge.Id] = v
	}
	require.Len(t, byId, 2)
	assert.Equal(t, models.StatusApproved, byId["bag"].Status)
	assert.NotNil(t, byId["bag"].ParticipationDate)
	assert.Equal(t, models.StatusNotParticipated, byId["tumbler"].Status)
	assert.False(t, byId["tumbler"].Participated)

	detail, err := f.svc.GetChallengeDetail(ctx, "alice", "ended")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotParticipated, detail.Status)

	history, err := f.svc.ListHistory(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

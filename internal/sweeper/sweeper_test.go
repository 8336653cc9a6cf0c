package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakeRecoverer) RecoverStale(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func (f *fakeRecoverer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestSweepUsesStaleCutoff(t *testing.T) {
	rec := &fakeRecoverer{n: 2}
	s := New(rec, models.SweeperConfig{StaleAfter: 10 * time.Minute})
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, fixed.Add(-10*time.Minute), rec.cutoffs[0])
}

func TestDefaults(t *testing.T) {
	s := New(&fakeRecoverer{}, models.SweeperConfig{})
	assert.Equal(t, time.Minute, s.interval)
	assert.Equal(t, 5*time.Minute, s.staleAfter)
}

func TestStartRunsRecoveryPassAndSchedules(t *testing.T) {
	rec := &fakeRecoverer{}
	s := New(rec, models.SweeperConfig{Interval: 20 * time.Millisecond})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 1, rec.calls())
	assert.Eventually(t, func() bool { return rec.calls() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartFailsWhenRecoveryFails(t *testing.T) {
	rec := &fakeRecoverer{err: errors.New("database locked")}
	s := New(rec, models.SweeperConfig{})

	err := s.Start(context.Background())
	assert.Error(t, err)
	s.Stop()
}

/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sweeper

import (
	"context"
	"fmt"
	"time"

	"eco-challenge-rewards-go/internal/metrics"
	"eco-challenge-rewards-go/internal/models"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	defaultInterval   = time.Minute
	defaultStaleAfter = 5 * time.Minute
)

// Recoverer moves records stuck in VERIFYING since before cutoff into review.
type Recoverer interface {
	RecoverStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Sweeper periodically recovers verifications interrupted by a crash or a
// lost request.
type Sweeper struct {
	recoverer  Recoverer
	interval   time.Duration
	staleAfter time.Duration
	scheduler  gocron.Scheduler
	now        func() time.Time
}

func New(recoverer Recoverer, cfg models.SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Sweeper{
		recoverer:  recoverer,
		interval:   interval,
		staleAfter: staleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start runs a recovery pass, then schedules one every interval.
func (s *Sweeper) Start(ctx context.Context) error {
	zap.L().Info("Starting stale verification sweeper")

	if _, err := s.Sweep(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("unable to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if _, err := s.Sweep(ctx); err != nil {
				zap.L().Error("Sweep failed", zap.Error(err))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("unable to schedule sweep: %w", err)
	}

	scheduler.Start()
	s.scheduler = scheduler

	zap.L().Info("Sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("stale_after", s.staleAfter))
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.scheduler == nil {
		return
	}
	zap.L().Info("Stopping sweeper")
	if err := s.scheduler.Shutdown(); err != nil {
		zap.L().Warn("Sweeper shutdown failed", zap.Error(err))
	}
	zap.L().Info("Sweeper stopped")
}

// Sweep runs one recovery pass and returns how many records it moved.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	n, err := s.recoverer.RecoverStale(ctx, cutoff)
	if n > 0 {
		metrics.ObserveSwept(n)
		zap.L().Warn("Recovered stale verifications", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, err
}

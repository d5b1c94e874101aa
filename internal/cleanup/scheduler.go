// Package cleanup runs the periodic expired-session and expired-refresh-
// token sweeps of spec §4.6 on a fixed interval, isolated from live
// request traffic.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/flowforge/internal/store"
)

const DefaultInterval = time.Hour

type Scheduler struct {
	store    store.Store
	interval time.Duration
	log      *zap.Logger
	quit     chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(st store.Store, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{store: st, interval: interval, log: log, quit: make(chan struct{})}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.quit:
			return
		}
	}
}

// Sweep runs both deletions once. A failure in one sweep does not abort
// the other, and errors never stop future scheduled sweeps (spec §4.6).
func (s *Scheduler) Sweep(ctx context.Context) {
	sessions, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		s.log.Warn("session sweep failed", zap.Error(err))
	} else {
		s.log.Info("session sweep complete", zap.Int64("deleted", sessions))
	}

	tokens, err := s.store.DeleteExpiredRefreshTokens(ctx)
	if err != nil {
		s.log.Warn("refresh token sweep failed", zap.Error(err))
	} else {
		s.log.Info("refresh token sweep complete", zap.Int64("deleted", tokens))
	}
}

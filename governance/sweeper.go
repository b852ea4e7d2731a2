package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const sweepBatchSize = 100

// Sweeper periodically finalizes proposals whose voting window has closed.
// Resolution is also performed lazily on reads, so the sweep only bounds how
// long an expired proposal can linger as active; running several sweepers
// concurrently is safe.
type Sweeper struct {
	svc  *Service
	cron *cron.Cron
	log  zerolog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log zerolog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		svc:  svc,
		cron: cron.New(),
		log:  log.With().Str("component", "governance-sweeper").Logger(),
	}

	spec := fmt.Sprintf("@every %s", interval)
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("governance: schedule sweep: %w", err)
	}
	return s, nil
}

// Start launches the sweep schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := s.svc.ResolveExpired(ctx, sweepBatchSize)
	if err != nil {
		s.log.Error().Err(err).Int("resolved", resolved).Msg("proposal sweep failed")
		return
	}
	if resolved > 0 {
		s.log.Info().Int("resolved", resolved).Msg("expired proposals finalized")
	}
}

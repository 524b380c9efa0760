package core

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler drives the two maintenance operations on a cadence when no
// external cron is configured: buffer flushes on the buffer timeout,
// trending computation on its own interval.
type Scheduler struct {
	svc           *Service
	flushEvery    time.Duration
	trendingEvery time.Duration
	stopCh        chan struct{}
	done          chan struct{}
}

func NewScheduler(svc *Service, flushEvery, trendingEvery time.Duration) *Scheduler {
	return &Scheduler{
		svc:           svc,
		flushEvery:    flushEvery,
		trendingEvery: trendingEvery,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the maintenance loop in a background goroutine until Stop
// is called.
func (sc *Scheduler) Start() {
	go func() {
		defer close(sc.done)

		flushTicker := time.NewTicker(sc.flushEvery)
		defer flushTicker.Stop()
		trendingTicker := time.NewTicker(sc.trendingEvery)
		defer trendingTicker.Stop()

		log.Info().Dur("flush_every", sc.flushEvery).Dur("trending_every", sc.trendingEvery).
			Msg("scheduler started")

		for {
			select {
			case <-flushTicker.C:
				if flushed, err := sc.svc.ForceFlush(); err != nil {
					log.Error().Err(err).Msg("scheduled flush")
				} else if flushed {
					log.Debug().Msg("scheduled flush done")
				}
			case <-trendingTicker.C:
				if n, err := sc.svc.ForceTrending(); err != nil {
					log.Error().Err(err).Int("scored", n).Msg("scheduled trending")
				}
			case <-sc.stopCh:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for the goroutine to exit.
func (sc *Scheduler) Stop() {
	close(sc.stopCh)
	<-sc.done
}

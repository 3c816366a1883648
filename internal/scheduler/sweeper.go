package scheduler

import (
	"context"
	"log"
	"time"

	"pharmstock/internal/service"
)

// Sweeper drives the expiry sweep on a fixed interval. One pass runs
// immediately on Start so a restarted instance catches up without waiting a
// full interval.
type Sweeper struct {
	sweeperService service.SweeperService
	interval       time.Duration
	stop           chan struct{}
	done           chan struct{}
}

func NewSweeper(sweeperService service.SweeperService, interval time.Duration) *Sweeper {
	return &Sweeper{
		sweeperService: sweeperService,
		interval:       interval,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Start launches the background loop.
func (s *Sweeper) Start() {
	go s.run()
	log.Printf("Expiry sweeper started (interval %s)", s.interval)
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
	log.Println("Expiry sweeper stopped")
}

func (s *Sweeper) run() {
	defer close(s.done)

	s.sweepOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.sweeperService.RunSweep(ctx)
	if err != nil {
		log.Printf("Sweep pass failed: %v", err)
		return
	}
	if result.ReservationsExpired > 0 || result.LotsWrittenOff > 0 {
		log.Printf("Sweep pass: %d reservations expired, %d lots written off",
			result.ReservationsExpired, result.LotsWrittenOff)
	}
}

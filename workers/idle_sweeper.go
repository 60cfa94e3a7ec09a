package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"factduel/config"
	"factduel/services"

	"github.com/go-co-op/gocron/v2"
)

const sweepBatchSize = 100

// IdleDuelSweeper periodically ends duels nobody has touched for a while.
type IdleDuelSweeper struct {
	duels       *services.DuelService
	hub         services.Broadcaster
	idleTimeout time.Duration
	interval    time.Duration
	scheduler   gocron.Scheduler
}

func NewIdleDuelSweeper(duels *services.DuelService, hub services.Broadcaster, idleTimeout, interval time.Duration) *IdleDuelSweeper {
	return &IdleDuelSweeper{
		duels:       duels,
		hub:         hub,
		idleTimeout: idleTimeout,
		interval:    interval,
	}
}

// Start schedules the sweep. A zero idle timeout disables it.
func (w *IdleDuelSweeper) Start() error {
	if w.idleTimeout <= 0 || w.interval <= 0 {
		log.Println("[Sweeper] Idle duel sweeper disabled")
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(func() { w.Sweep() }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}

	sched.Start()
	w.scheduler = sched
	log.Printf("[Sweeper] Ending duels idle for %s, checking every %s", w.idleTimeout, w.interval)
	return nil
}

// Sweep runs one pass and returns the number of duels it ended.
func (w *IdleDuelSweeper) Sweep() int {
	ctx, cancel := context.WithTimeout(context.Background(), w.interval+config.EventTimeout)
	defer cancel()

	ended, err := w.duels.ExpireIdle(ctx, w.idleTimeout, sweepBatchSize, w.hub)
	if err != nil {
		log.Printf("[Sweeper] Store error: %v", err)
		return ended
	}
	if ended > 0 {
		log.Printf("[Sweeper] Ended %d idle duel(s)", ended)
	}
	return ended
}

func (w *IdleDuelSweeper) Stop() error {
	if w.scheduler == nil {
		return nil
	}
	return w.scheduler.Shutdown()
}

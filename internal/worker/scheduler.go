package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"flowledger/internal/log"
	"flowledger/internal/services"
)

// Job is one periodic sweep.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stage groups jobs that may run concurrently. Stages run in order.
type Stage []Job

// SchedulerConfig holds configuration for the sweep scheduler
type SchedulerConfig struct {
	// Interval between sweep rounds (default: 24h)
	Interval time.Duration

	// RunOnStartup runs a round immediately when started (default: true)
	RunOnStartup bool
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     24 * time.Hour,
		RunOnStartup: true,
	}
}

// Scheduler runs the sweep stages on a fixed interval.
type Scheduler struct {
	stages []Stage
	config SchedulerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(config SchedulerConfig, stages ...Stage) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultSchedulerConfig().Interval
	}
	return &Scheduler{stages: stages, config: config}
}

// EngineStages returns the sweeps of the engine. Materialization comes first
// so the later sweeps see the occurrences it creates.
func EngineStages(e *services.Engine) []Stage {
	return []Stage{
		{
			{Name: "recurrence", Run: func(ctx context.Context) error {
				_, err := e.Recurrence.Run(ctx)
				return err
			}},
		},
		{
			{Name: "budget_periods", Run: func(ctx context.Context) error {
				_, err := e.Budgets.Run(ctx)
				return err
			}},
			{Name: "goal_deadlines", Run: func(ctx context.Context) error {
				_, err := e.Goals.Run(ctx)
				return err
			}},
			{Name: "unusual_spending", Run: func(ctx context.Context) error {
				_, err := e.Alerts.Run(ctx)
				return err
			}},
		},
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Sweep scheduler started",
		"interval", s.config.Interval,
		"run_on_startup", s.config.RunOnStartup)
	return nil
}

// Stop signals the loop and waits for the current round to finish. Only the
// first of concurrent callers closes the stop channel.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sweep scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sweep scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStartup {
		s.round(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.round(ctx)
		}
	}
}

// round runs the stages once with a round id attached to the context logger.
func (s *Scheduler) round(ctx context.Context) {
	logger := log.FromContext(ctx).With("round_id", uuid.NewString())
	ctx = log.NewContext(ctx, logger)

	start := time.Now()
	if err := s.RunOnce(ctx); err != nil {
		logger.ErrorContext(ctx, "Sweep round failed",
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldError, err)
		return
	}
	logger.InfoContext(ctx, "Sweep round complete",
		log.FieldDuration, time.Since(start).Milliseconds(),
		"next_run", time.Now().Add(s.config.Interval).Format(time.RFC3339))
}

// RunOnce runs every stage once. A failing job does not stop the other jobs
// of its stage or the later stages; all failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	for _, stage := range s.stages {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		// A plain WaitGroup: one failed sweep must not cancel its siblings.
		var wg sync.WaitGroup
		for _, job := range stage {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := job.Run(ctx); err != nil {
					log.FromContext(ctx).ErrorContext(ctx, "Sweep failed", log.FieldSweep, job.Name, log.FieldError, err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}
	return errors.Join(errs...)
}

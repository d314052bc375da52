package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/provider"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

// Processor drives one event forward.
type Processor interface {
	Process(ctx context.Context, eventID string) (model.EventState, error)
}

// Ingester stores provider events found by backfill.
type Ingester interface {
	Ingest(ctx context.Context, raw model.RawFlowEvent) (*model.FlowEvent, error)
}

// SweepConfig controls the periodic sweep.
type SweepConfig struct {
	Interval    time.Duration
	MinAge      time.Duration
	BatchSize   int
	AlertAfter  int
	Concurrency int
	Backfill    bool
}

// SweepReport summarizes one pass.
type SweepReport struct {
	States     map[model.EventState]int
	Scanned    int
	Failed     int
	Alerts     int
	Backfilled int
}

// Sweeper revisits events that have not reached a terminal state. A pass is
// idempotent: finalized events are never listed and matched events are
// never re-matched.
type Sweeper struct {
	store     service.Storage
	processor Processor
	alerter   Alerter
	provider  provider.FlowProvider
	ingester  Ingester
	logger    *slog.Logger
	now       func() time.Time
	alerted   map[string]int
	cfg       SweepConfig
	mu        sync.Mutex
}

// NewSweeper creates a sweeper. alerter may be nil.
func NewSweeper(store service.Storage, processor Processor, alerter Alerter, cfg SweepConfig) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AlertAfter <= 0 {
		cfg.AlertAfter = 5
	}
	if alerter == nil {
		alerter = NewLogAlerter()
	}
	return &Sweeper{
		store:     store,
		processor: processor,
		alerter:   alerter,
		logger:    slog.Default().With("component", "sweep"),
		now:       time.Now,
		alerted:   make(map[string]int),
		cfg:       cfg,
	}
}

// WithBackfill enables pulling flows for pending intents from the provider.
func (s *Sweeper) WithBackfill(p provider.FlowProvider, ingester Ingester) *Sweeper {
	s.provider = p
	s.ingester = ingester
	return s
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := s.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("Sweep failed", "error", err)
				continue
			}
			s.logger.Info("Sweep complete",
				"scanned", report.Scanned,
				"failed", report.Failed,
				"alerts", report.Alerts,
				"backfilled", report.Backfilled)
		}
	}
}

// RunOnce performs one sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if s.cfg.Backfill && s.provider != nil && s.ingester != nil {
		n, err := s.backfill(ctx)
		if err != nil {
			s.logger.Warn("Backfill incomplete", "error", err)
		}
		report.Backfilled = n
	}

	cutoff := s.now().Add(-s.cfg.MinAge)
	events, err := s.store.ListEventsByState(ctx, service.EventFilter{
		States:        model.PendingStates(),
		UpdatedBefore: &cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list pending events: %w", err)
	}
	report.Scanned = len(events)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, event := range events {
		id := event.ID
		g.Go(func() error {
			_, err := s.processor.Process(gctx, id)
			if err == nil {
				s.clearAlert(id)
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			alerted := s.maybeAlert(gctx, id, err)
			mu.Lock()
			report.Failed++
			if alerted {
				report.Alerts++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("sweep interrupted: %w", err)
	}

	s.pruneAlerts(ctx)

	counts, err := s.store.CountEventsByState(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to count events: %w", err)
	}
	report.States = counts
	for _, state := range []model.EventState{model.StateIngested, model.StateMatched, model.StateUnmatched, model.StateValuated, model.StateFinalized} {
		metrics.EventsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}

	metrics.SweepRuns.Inc()
	return report, nil
}

// maybeAlert raises an alert each time an event's failure count crosses
// another multiple of AlertAfter.
func (s *Sweeper) maybeAlert(ctx context.Context, eventID string, err error) bool {
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		s.logger.Warn("Sweep could not process event", "event_id", eventID, "error", err)
		return false
	}

	level := stepErr.Attempts / s.cfg.AlertAfter
	s.mu.Lock()
	if level == 0 || s.alerted[eventID] >= level {
		s.mu.Unlock()
		return false
	}
	s.alerted[eventID] = level
	s.mu.Unlock()

	alert := NewAlert(eventID, stepErr.Step, stepErr.Err.Error(), stepErr.Attempts)
	if err := s.alerter.Raise(ctx, alert); err != nil {
		s.logger.Error("Failed to raise alert", "event_id", eventID, "error", err)
	}
	return true
}

func (s *Sweeper) clearAlert(eventID string) {
	s.mu.Lock()
	delete(s.alerted, eventID)
	s.mu.Unlock()
}

// pruneAlerts forgets alerted events that are gone or no longer pending,
// such as those a pipeline worker finalized between passes.
func (s *Sweeper) pruneAlerts(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.alerted))
	for id := range s.alerted {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		event, err := s.store.GetFlowEvent(ctx, id)
		switch {
		case errors.Is(err, common.ErrNotFound):
		case err != nil:
			continue
		case !event.State.IsTerminal():
			continue
		}
		s.clearAlert(id)
	}
}

// backfill asks the provider for flows behind pending intents and ingests
// anything it finds. Ingestion is idempotent so repeated passes are harmless.
func (s *Sweeper) backfill(ctx context.Context) (int, error) {
	intents, err := s.store.ListPendingIntents(ctx, s.now().Add(-s.cfg.MinAge), s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending intents: %w", err)
	}

	found := 0
	var errs []error
	for _, intent := range intents {
		raw, err := s.lookupFlow(ctx, intent)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		if raw == nil {
			continue
		}
		if _, err := s.ingester.Ingest(ctx, *raw); err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", intent.ID, err))
			continue
		}
		found++
	}
	return found, errors.Join(errs...)
}

func (s *Sweeper) lookupFlow(ctx context.Context, intent model.DonationIntent) (*model.RawFlowEvent, error) {
	q := provider.FlowQuery{
		Receiver:        intent.Receiver,
		Sender:          intent.Sender,
		FlowRate:        intent.ExpectedFlowRate.String(),
		TransactionHash: intent.TransactionHash,
	}
	if intent.TransactionHash != "" {
		return s.provider.GetFlowByTxHash(ctx, q)
	}
	// timestamp_gt is exclusive; a flow starting at the intent's creation still matches.
	return s.provider.GetFlowByReceiverSenderFlowRate(ctx, q, intent.CreatedAt.Add(-time.Second))
}

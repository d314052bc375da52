// Package reconcile drives stored flow events through the reconciliation
// state machine, both as they arrive and on a periodic sweep.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/eligibility"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/matcher"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

// Reconciliation steps, as recorded in failures and alerts.
const (
	StepLoad     = "load"
	StepMatch    = "match"
	StepValuate  = "valuate"
	StepVerify   = "verify"
	StepFinalize = "finalize"
)

// ErrNotEligible means a gated intent's sender could not be shown to hold the program NFT.
var ErrNotEligible = errors.New("holder not eligible")

// Matcher attributes an event to an intent.
type Matcher interface {
	Match(ctx context.Context, event *model.FlowEvent) (matcher.Result, error)
}

// Valuer prices a matched event.
type Valuer interface {
	ValuateFlow(ctx context.Context, event *model.FlowEvent) (service.Valuation, error)
}

// HolderVerifier answers gated-round eligibility.
type HolderVerifier interface {
	VerifyHolder(ctx context.Context, projectAddress, holderAddress string) eligibility.Result
}

// StepError is a failed reconciliation step. The event stays in its
// non-terminal state with Attempts failures recorded.
type StepError struct {
	Err      error
	EventID  string
	Step     string
	Attempts int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("event %s: %s failed (attempt %d): %v", e.EventID, e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Config sizes the pipeline.
type Config struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
}

// Pipeline is a bounded queue of event ids served by a fixed worker pool.
type Pipeline struct {
	store    service.Storage
	matcher  Matcher
	valuer   Valuer
	verifier HolderVerifier
	queue    chan string
	logger   *slog.Logger
	cancel   context.CancelFunc
	group    singleflight.Group
	wg       sync.WaitGroup
	timeout  time.Duration
	workers  int
}

// NewPipeline wires the reconciliation steps together.
func NewPipeline(store service.Storage, m Matcher, valuer Valuer, verifier HolderVerifier, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Second
	}
	return &Pipeline{
		store:    store,
		matcher:  m,
		valuer:   valuer,
		verifier: verifier,
		queue:    make(chan string, cfg.QueueSize),
		logger:   slog.Default().With("component", "pipeline"),
		timeout:  cfg.ProcessTimeout,
		workers:  cfg.Workers,
	}
}

// Enqueue offers an event id to the workers without blocking. It returns
// false when the queue is full; the event then waits for the sweep.
func (p *Pipeline) Enqueue(eventID string) bool {
	select {
	case p.queue <- eventID:
		metrics.PipelineQueueDepth.Inc()
		return true
	default:
		metrics.PipelineDropped.Inc()
		p.logger.Warn("Reconciliation queue full; leaving event for the sweep", "event_id", eventID)
		return false
	}
}

// Start launches the workers. They run until Stop or until ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("Reconciliation pipeline started", "workers", p.workers, "queue_size", cap(p.queue))
}

// Stop cancels the workers and waits for in-flight events. Queued ids that
// were not picked up stay stored and are found by the next sweep.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			metrics.PipelineQueueDepth.Dec()
			if _, err := p.Process(ctx, id); err != nil {
				p.logger.Warn("Reconciliation step failed", "event_id", id, "error", err)
			}
		}
	}
}

// Process drives one event as far as it can go and returns the state it
// reached. Concurrent calls for the same id share one pass.
func (p *Pipeline) Process(ctx context.Context, eventID string) (model.EventState, error) {
	v, err, _ := p.group.Do(eventID, func() (any, error) {
		return p.process(ctx, eventID)
	})
	state, _ := v.(model.EventState)
	return state, err
}

func (p *Pipeline) process(ctx context.Context, eventID string) (model.EventState, error) {
	start := time.Now()

	event, err := p.store.GetFlowEvent(ctx, eventID)
	if err != nil {
		return "", fmt.Errorf("failed to load event %s: %w", eventID, err)
	}

	// Each pass advances at most one transition, and there are four of them.
	for range 4 {
		var step string
		switch event.State {
		case model.StateFinalized:
			metrics.ProcessDuration.WithLabelValues(string(event.State)).Observe(time.Since(start).Seconds())
			return event.State, nil
		case model.StateIngested, model.StateUnmatched:
			step = StepMatch
			var matched bool
			matched, err = p.match(ctx, event)
			if err == nil && !matched {
				// A first miss is normal; a repeated one counts toward alerting.
				if event.State == model.StateUnmatched {
					err = fmt.Errorf("%w: flow %s", common.ErrNoMatch, event.TransactionHash)
					break
				}
				metrics.ProcessDuration.WithLabelValues(string(model.StateUnmatched)).Observe(time.Since(start).Seconds())
				return model.StateUnmatched, nil
			}
		case model.StateMatched:
			step = StepValuate
			err = p.valuate(ctx, event)
		case model.StateValuated:
			step = StepVerify
			if err = p.verify(ctx, event); err == nil {
				step = StepFinalize
				err = p.finalize(ctx, event)
			}
		default:
			return event.State, fmt.Errorf("event %s has unknown state %q", eventID, event.State)
		}

		if err != nil && !errors.Is(err, errStateMoved) {
			return event.State, p.fail(ctx, event, step, err)
		}

		event, err = p.store.GetFlowEvent(ctx, eventID)
		if err != nil {
			return "", fmt.Errorf("failed to reload event %s: %w", eventID, err)
		}
	}

	metrics.ProcessDuration.WithLabelValues(string(event.State)).Observe(time.Since(start).Seconds())
	return event.State, nil
}

// errStateMoved means another writer advanced the event first.
var errStateMoved = errors.New("event state moved")

func (p *Pipeline) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Pipeline) match(ctx context.Context, event *model.FlowEvent) (bool, error) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	result, err := p.matcher.Match(stepCtx, event)
	if err != nil {
		return false, err
	}
	return result.Matched(), nil
}

func (p *Pipeline) valuate(ctx context.Context, event *model.FlowEvent) error {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	valuation, err := p.valuer.ValuateFlow(stepCtx, event)
	if err != nil {
		return err
	}
	return p.moved(p.store.MarkValuated(stepCtx, event.ID, valuation))
}

func (p *Pipeline) verify(ctx context.Context, event *model.FlowEvent) error {
	if event.IntentID == "" {
		return nil
	}

	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	intent, err := p.store.GetIntent(stepCtx, event.IntentID)
	if err != nil {
		return fmt.Errorf("failed to load intent %s: %w", event.IntentID, err)
	}
	if !intent.Gated {
		return nil
	}

	result := p.verifier.VerifyHolder(stepCtx, event.Receiver, event.Sender)
	if !result.Eligible {
		return fmt.Errorf("%w: sender %s for project %s (source %s)", ErrNotEligible, event.Sender, event.Receiver, result.Source)
	}
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, event *model.FlowEvent) error {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	if err := p.moved(p.store.MarkFinalized(stepCtx, event.ID)); err != nil {
		return err
	}
	p.logger.Info("Finalized flow event", "event_id", event.ID, "intent_id", event.IntentID)
	return nil
}

// moved maps a lost state CAS onto errStateMoved so the caller reloads.
func (p *Pipeline) moved(err error) error {
	if err != nil && errors.Is(err, common.ErrInvalidTransition) {
		return errStateMoved
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, event *model.FlowEvent, step string, cause error) error {
	metrics.ProcessFailures.WithLabelValues(step).Inc()

	attempts, err := p.store.RecordFailure(context.WithoutCancel(ctx), event.ID, fmt.Sprintf("%s: %v", step, cause))
	if err != nil {
		p.logger.Error("Failed to record reconciliation failure", "event_id", event.ID, "error", err)
		attempts = event.Attempts + 1
	}
	return &StepError{EventID: event.ID, Step: step, Attempts: attempts, Err: cause}
}

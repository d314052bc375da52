// Package matcher attributes flow events to pending donation intents.
//
// Matching runs in two tiers. The exact tier looks for an intent already
// linked to the event's transaction hash. The fuzzy tier takes the most
// recently created unmatched intent on the same stream that existed when the
// flow started. Claims go through the store's atomic match-and-mark, so two
// matchers racing for one intent never both win.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/metrics"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

// DefaultMaxClaimAttempts bounds how often a lost claim is retried against the next candidate.
const DefaultMaxClaimAttempts = 3

// Result is the outcome of one match attempt.
type Result struct {
	Intent     *model.DonationIntent
	Confidence model.Confidence
	// Conflict is set when at least one claim was lost to a concurrent matcher.
	Conflict bool
}

// Matched reports whether the event is attributed to an intent.
func (r Result) Matched() bool {
	return r.Intent != nil && r.Confidence != model.ConfidenceNone
}

// Matcher matches events against stored intents.
type Matcher struct {
	store            service.Storage
	logger           *slog.Logger
	maxClaimAttempts int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMaxClaimAttempts overrides DefaultMaxClaimAttempts.
func WithMaxClaimAttempts(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.maxClaimAttempts = n
		}
	}
}

// New creates a Matcher over store.
func New(store service.Storage, opts ...Option) *Matcher {
	m := &Matcher{
		store:            store,
		logger:           slog.Default().With("component", "matcher"),
		maxClaimAttempts: DefaultMaxClaimAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type tier struct {
	confidence model.Confidence
	query      model.IntentQuery
	// accept filters candidates the query cannot express.
	accept func(model.DonationIntent) bool
}

// Match attributes event to at most one intent. An event that is already
// matched keeps its attribution and is never re-matched. When nothing
// qualifies the event is marked unmatched for the sweep to revisit.
func (m *Matcher) Match(ctx context.Context, event *model.FlowEvent) (Result, error) {
	if event == nil {
		return Result{}, fmt.Errorf("match: nil event")
	}
	if event.State != model.StateIngested && event.State != model.StateUnmatched {
		return m.existing(ctx, event.ID)
	}

	result, err := m.claim(ctx, event)
	if err != nil {
		return Result{}, err
	}
	if result.Matched() {
		metrics.MatchOutcomes.WithLabelValues(string(result.Confidence)).Inc()
		m.logger.Info("Matched flow event",
			"event_id", event.ID,
			"intent_id", result.Intent.ID,
			"confidence", result.Confidence,
			"conflict", result.Conflict)
		return result, nil
	}

	if err := m.store.MarkUnmatched(ctx, event.ID); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			// Another worker matched it first.
			return m.existing(ctx, event.ID)
		}
		return Result{}, fmt.Errorf("failed to mark event %s unmatched: %w", event.ID, err)
	}

	metrics.MatchOutcomes.WithLabelValues(string(model.ConfidenceNone)).Inc()
	m.logger.Debug("No intent for flow event", "event_id", event.ID, "conflict", result.Conflict)
	return result, nil
}

func (m *Matcher) claim(ctx context.Context, event *model.FlowEvent) (Result, error) {
	result := Result{Confidence: model.ConfidenceNone}
	lost := make(map[string]bool)
	attempts := 0

	for _, t := range m.tiers(event) {
		for attempts < m.maxClaimAttempts {
			candidate, err := m.nextCandidate(ctx, t, lost)
			if err != nil {
				return Result{}, err
			}
			if candidate == nil {
				break
			}

			attempts++
			err = m.store.ClaimIntent(ctx, service.IntentClaim{
				IntentID:   candidate.ID,
				EventID:    event.ID,
				Confidence: t.confidence,
			})
			switch {
			case err == nil:
				candidate.Matched = true
				candidate.MatchedEventID = event.ID
				result.Intent = candidate
				result.Confidence = t.confidence
				return result, nil
			case errors.Is(err, common.ErrConstraintViolation):
				metrics.MatchConflicts.Inc()
				m.logger.Debug("Lost intent claim, trying next candidate",
					"event_id", event.ID, "intent_id", candidate.ID)
				lost[candidate.ID] = true
				result.Conflict = true
			case errors.Is(err, common.ErrInvalidTransition):
				// The event moved on under us; report what it became.
				return m.existing(ctx, event.ID)
			default:
				return Result{}, fmt.Errorf("failed to claim intent %s for event %s: %w", candidate.ID, event.ID, err)
			}
		}
	}
	return result, nil
}

func (m *Matcher) tiers(event *model.FlowEvent) []tier {
	stream := model.IntentQuery{
		Sender:   event.Sender,
		Receiver: event.Receiver,
		FlowRate: event.FlowRate,
	}

	exact := stream
	exact.TransactionHash = event.TransactionHash

	fuzzy := stream
	startedAt := event.Timestamp
	fuzzy.CreatedAtOrBefore = &startedAt

	return []tier{
		{confidence: model.ConfidenceExact, query: exact},
		{
			confidence: model.ConfidenceFuzzy,
			query:      fuzzy,
			// An intent linked to another transaction belongs to that flow.
			accept: func(intent model.DonationIntent) bool {
				return intent.TransactionHash == "" || intent.TransactionHash == event.TransactionHash
			},
		},
	}
}

// nextCandidate returns the best remaining candidate of t. Candidates come
// back newest first, with later insertion winning ties.
func (m *Matcher) nextCandidate(ctx context.Context, t tier, lost map[string]bool) (*model.DonationIntent, error) {
	if t.confidence == model.ConfidenceExact && t.query.TransactionHash == "" {
		return nil, nil
	}

	candidates, err := m.store.FindIntentCandidates(ctx, t.query)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s candidates: %w", t.confidence, err)
	}
	for i := range candidates {
		if lost[candidates[i].ID] {
			continue
		}
		if t.accept != nil && !t.accept(candidates[i]) {
			continue
		}
		return &candidates[i], nil
	}
	return nil, nil
}

func (m *Matcher) existing(ctx context.Context, eventID string) (Result, error) {
	current, err := m.store.GetFlowEvent(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	result := Result{Confidence: current.Confidence}
	if current.IntentID == "" {
		result.Confidence = model.ConfidenceNone
		return result, nil
	}
	intent, err := m.store.GetIntent(ctx, current.IntentID)
	if err != nil {
		return Result{}, err
	}
	result.Intent = intent
	return result, nil
}

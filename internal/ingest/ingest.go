// Package ingest validates, deduplicates and persists provider flow events
// and hands new ones to background reconciliation.
package ingest

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

// Enqueuer accepts event ids for asynchronous reconciliation. Enqueue must
// not block; false means the id was not queued and the sweep will find it.
type Enqueuer interface {
	Enqueue(eventID string) bool
}

// Ingester is the entry point for every provider event, whether pushed by
// webhook or pulled by backfill.
type Ingester struct {
	store  service.Storage
	queue  Enqueuer
	logger *slog.Logger
}

// New creates an Ingester. queue may be nil, in which case events wait for the sweep.
func New(store service.Storage, queue Enqueuer) *Ingester {
	return &Ingester{
		store:  store,
		queue:  queue,
		logger: slog.Default().With("component", "ingest"),
	}
}

// Ingest validates raw and stores it. Re-delivery of a known id returns the
// stored event unchanged and is not an error. A malformed payload returns an
// error wrapping common.ErrMalformedEvent and a *model.ValidationError.
func (i *Ingester) Ingest(ctx context.Context, raw model.RawFlowEvent) (*model.FlowEvent, error) {
	event, _, err := i.ingest(ctx, raw)
	if errors.Is(err, common.ErrDuplicateEvent) {
		return event, nil
	}
	return event, err
}

// ingest returns the stored event alongside common.ErrDuplicateEvent when a
// known id arrives with a different payload.

func (i *Ingester) ingest(ctx context.Context, raw model.RawFlowEvent) (*model.FlowEvent, bool, error) {
	event, err := raw.Normalize()
	if err != nil {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeRejected).Inc()
		i.logger.Warn("Rejected malformed flow event", "id", raw.ID, "error", err)
		return nil, false, fmt.Errorf("%w: %w", common.ErrMalformedEvent, err)
	}

	stored, created, err := i.store.InsertFlowEvent(ctx, event)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store flow event %s: %w", event.ID, err)
	}

	if !created {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		if !stored.SameFlow(event) {
			i.logger.Warn("Duplicate flow event id with a different payload; keeping stored copy",
				"id", event.ID,
				"stored_tx", stored.TransactionHash,
				"received_tx", event.TransactionHash)
			return stored, false, fmt.Errorf("%w: %s payload differs from the stored copy", common.ErrDuplicateEvent, event.ID)
		}
		i.logger.Debug("Ignored duplicate flow event", "id", event.ID)
		return stored, false, nil
	}

	metrics.EventsIngested.WithLabelValues(metrics.OutcomeAccepted).Inc()
	i.logger.Debug("Ingested flow event",
		"id", stored.ID,
		"sender", stored.Sender,
		"receiver", stored.Receiver,
		"flow_rate", stored.FlowRate.String())

	if i.queue != nil && !i.queue.Enqueue(stored.ID) {
		i.logger.Info("Reconciliation queue full, leaving event for the sweep", "id", stored.ID)
	}
	return stored, true, nil
}

// BatchResult summarizes one webhook delivery or backfill page.
type BatchResult struct {
	Errors     []error
	Accepted   int
	Duplicates int
	Rejected   int
}

// IngestBatch ingests every event independently. A bad event never stops the
// rest. A duplicate whose payload differs counts as a duplicate and is also
// listed in Errors.
func (i *Ingester) IngestBatch(ctx context.Context, raws []model.RawFlowEvent) BatchResult {
	var result BatchResult
	for _, raw := range raws {
		_, created, err := i.ingest(ctx, raw)
		switch {
		case errors.Is(err, common.ErrDuplicateEvent):
			result.Duplicates++
			result.Errors = append(result.Errors, err)
		case err != nil:
			result.Rejected++
			result.Errors = append(result.Errors, err)
			if !errors.Is(err, common.ErrMalformedEvent) {
				i.logger.Error("Failed to ingest flow event", "id", raw.ID, "error", err)
			}
		case created:
			result.Accepted++
		default:
			result.Duplicates++
		}
	}
	return result
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

const flowEventColumns = `id, flow_operator, flow_rate, transaction_hash, receiver, sender, token,
	timestamp, state, intent_id, confidence, valuation_usd, price_sample_at,
	attempts, last_error, ingested_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// InsertFlowEvent stores a new event, or returns the already stored event
// with created=false when the id has been seen before.
func (s *SQLiteStorage) InsertFlowEvent(ctx context.Context, event *model.FlowEvent) (*model.FlowEvent, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validateFlowEvent(event); err != nil {
		return nil, false, err
	}

	var (
		stored  *model.FlowEvent
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := unixOf(s.now())
		res, err := tx.ExecContext(ctx, `
			INSERT INTO flow_events (
				id, flow_operator, flow_rate, transaction_hash, receiver, sender, token,
				timestamp, state, confidence, ingested_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			event.ID,
			event.FlowOperator,
			event.FlowRate.String(),
			event.TransactionHash,
			event.Receiver,
			event.Sender,
			event.Token,
			unixOf(event.Timestamp),
			string(model.StateIngested),
			string(model.ConfidenceNone),
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert flow event %s: %w", event.ID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		created = affected == 1

		stored, err = s.getFlowEventTx(ctx, tx, event.ID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

// GetFlowEvent retrieves an event by its provider id.
func (s *SQLiteStorage) GetFlowEvent(ctx context.Context, id string) (*model.FlowEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getFlowEventTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getFlowEventTx(ctx context.Context, q queryable, id string) (*model.FlowEvent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+flowEventColumns+` FROM flow_events WHERE id = ?`, id)
	event, err := scanFlowEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flow event %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func scanFlowEvent(row rowScanner) (*model.FlowEvent, error) {
	var (
		event         model.FlowEvent
		flowRate      string
		timestamp     int64
		state         string
		intentID      sql.NullString
		confidence    string
		valuation     sql.NullString
		priceSampleAt sql.NullInt64
		lastError     sql.NullString
		ingestedAt    int64
		updatedAt     int64
	)

	err := row.Scan(
		&event.ID,
		&event.FlowOperator,
		&flowRate,
		&event.TransactionHash,
		&event.Receiver,
		&event.Sender,
		&event.Token,
		&timestamp,
		&state,
		&intentID,
		&confidence,
		&valuation,
		&priceSampleAt,
		&event.Attempts,
		&lastError,
		&ingestedAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan flow event: %w", err)
	}

	rate, err := decimal.NewFromString(flowRate)
	if err != nil {
		return nil, fmt.Errorf("%w: flow rate %q of event %s", common.ErrDatabaseCorrupted, flowRate, event.ID)
	}
	event.FlowRate = rate
	event.Timestamp = timeOf(timestamp)
	event.State = model.EventState(state)
	event.IntentID = intentID.String
	event.Confidence = model.Confidence(confidence)
	event.PriceSampleAt = nullTime(priceSampleAt)
	event.LastError = lastError.String
	event.IngestedAt = timeOf(ingestedAt)
	event.UpdatedAt = timeOf(updatedAt)

	if event.ValuationUSD, err = nullDecimal(valuation); err != nil {
		return nil, err
	}

	return &event, nil
}

// ListEventsByState returns events in the given states, least recently touched first.
func (s *SQLiteStorage) ListEventsByState(ctx context.Context, filter service.EventFilter) ([]model.FlowEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	placeholders := make([]string, len(filter.States))
	args := make([]any, 0, len(filter.States)+2)
	for i, state := range filter.States {
		placeholders[i] = "?"
		args = append(args, string(state))
	}

	query := `SELECT ` + flowEventColumns + ` FROM flow_events WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	if filter.UpdatedBefore != nil {
		query += " AND updated_at <= ?"
		args = append(args, unixOf(*filter.UpdatedBefore))
	}
	query += " ORDER BY updated_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.FlowEvent
	for rows.Next() {
		event, err := scanFlowEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow events: %w", err)
	}

	return events, nil
}

// CountEventsByState returns how many events sit in each state.
func (s *SQLiteStorage) CountEventsByState(ctx context.Context) (map[model.EventState]int, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM flow_events GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count flow events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.EventState]int)
	for rows.Next() {
		var (
			state string
			count int
		)
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[model.EventState(state)] = count
	}
	return counts, rows.Err()
}

// MarkUnmatched records that no intent qualified for the event.
func (s *SQLiteStorage) MarkUnmatched(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID,
		[]model.EventState{model.StateIngested, model.StateUnmatched},
		`state = 'unmatched', confidence = 'NONE'`)
}

// MarkValuated attaches a USD valuation to a matched event.
func (s *SQLiteStorage) MarkValuated(ctx context.Context, eventID string, valuation service.Valuation) error {
	return s.transition(ctx, eventID,
		[]model.EventState{model.StateMatched},
		`state = 'valuated', valuation_usd = ?, price_sample_at = ?, last_error = NULL`,
		valuation.USDPerSecond.String(), unixOf(valuation.SampleAt))
}

// MarkFinalized closes out a valuated event.
func (s *SQLiteStorage) MarkFinalized(ctx context.Context, eventID string) error {
	return s.transition(ctx, eventID,
		[]model.EventState{model.StateValuated},
		`state = 'finalized', last_error = NULL`)
}

// transition applies set to the event only while it is in one of from.
func (s *SQLiteStorage) transition(ctx context.Context, eventID string, from []model.EventState, set string, setArgs ...any) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.transitionTx(ctx, tx, eventID, from, set, setArgs...)
	})
}

func (s *SQLiteStorage) transitionTx(ctx context.Context, tx *sql.Tx, eventID string, from []model.EventState, set string, setArgs ...any) error {
	placeholders := make([]string, len(from))
	args := make([]any, 0, len(setArgs)+len(from)+2)
	args = append(args, setArgs...)
	args = append(args, unixOf(s.now()), eventID)
	for i, state := range from {
		placeholders[i] = "?"
		args = append(args, string(state))
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE flow_events SET `+set+`, updated_at = ? WHERE id = ? AND state IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update flow event %s: %w", eventID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 1 {
		return nil
	}

	current, err := s.getFlowEventTx(ctx, tx, eventID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: event %s is %s", common.ErrInvalidTransition, eventID, current.State)
}

// RecordFailure counts a failed reconciliation attempt and keeps the reason.
func (s *SQLiteStorage) RecordFailure(ctx context.Context, eventID string, reason string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return 0, err
	}

	var attempts int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE flow_events
			SET attempts = attempts + 1, last_error = ?, updated_at = ?
			WHERE id = ?
		`, reason, unixOf(s.now()), eventID)
		if err != nil {
			return fmt.Errorf("failed to record failure for %s: %w", eventID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("flow event %s: %w", eventID, common.ErrNotFound)
		}
		return tx.QueryRowContext(ctx, `SELECT attempts FROM flow_events WHERE id = ?`, eventID).Scan(&attempts)
	})
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

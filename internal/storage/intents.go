package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

const intentColumns = `id, sender, receiver, expected_flow_rate, transaction_hash, gated,
	created_at, matched, matched_event_id, matched_at`

// CreateIntent stores a pending donation intent. A missing ID or CreatedAt is filled in.
func (s *SQLiteStorage) CreateIntent(ctx context.Context, intent *model.DonationIntent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateIntent(intent); err != nil {
		return err
	}

	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = s.now()
	}
	intent.Matched = false
	intent.MatchedEventID = ""
	intent.MatchedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO donation_intents (
			id, sender, receiver, expected_flow_rate, transaction_hash, gated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		intent.ID,
		intent.Sender,
		intent.Receiver,
		intent.ExpectedFlowRate.String(),
		stringArg(intent.TransactionHash),
		intent.Gated,
		unixOf(intent.CreatedAt),
	)
	if isConstraintErr(err) {
		return fmt.Errorf("%w: intent %s already exists", common.ErrConstraintViolation, intent.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert donation intent: %w", err)
	}
	return nil
}

// GetIntent retrieves an intent by id.
func (s *SQLiteStorage) GetIntent(ctx context.Context, id string) (*model.DonationIntent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getIntentTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getIntentTx(ctx context.Context, q queryable, id string) (*model.DonationIntent, error) {
	row := q.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM donation_intents WHERE id = ?`, id)
	intent, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("donation intent %s: %w", id, common.ErrNotFound)
	}
	return intent, err
}

func scanIntent(row rowScanner) (*model.DonationIntent, error) {
	var (
		intent         model.DonationIntent
		rate           string
		txHash         sql.NullString
		createdAt      int64
		matchedEventID sql.NullString
		matchedAt      sql.NullInt64
	)

	err := row.Scan(
		&intent.ID,
		&intent.Sender,
		&intent.Receiver,
		&rate,
		&txHash,
		&intent.Gated,
		&createdAt,
		&intent.Matched,
		&matchedEventID,
		&matchedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan donation intent: %w", err)
	}

	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: expected flow rate %q of intent %s", common.ErrDatabaseCorrupted, rate, intent.ID)
	}
	intent.ExpectedFlowRate = parsed
	intent.TransactionHash = txHash.String
	intent.CreatedAt = timeOf(createdAt)
	intent.MatchedEventID = matchedEventID.String
	intent.MatchedAt = nullTime(matchedAt)

	return &intent, nil
}

// LinkIntentTransaction records the transaction hash a pledge is expected to arrive with.
func (s *SQLiteStorage) LinkIntentTransaction(ctx context.Context, intentID, txHash string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(intentID, "intentID"); err != nil {
		return err
	}
	if err := validateString(txHash, "txHash"); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE donation_intents SET transaction_hash = ? WHERE id = ? AND matched = 0`,
			txHash, intentID)
		if err != nil {
			return fmt.Errorf("failed to link intent %s: %w", intentID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return nil
		}
		if _, err := s.getIntentTx(ctx, tx, intentID); err != nil {
			return err
		}
		return fmt.Errorf("%w: intent %s is already matched", common.ErrInvalidTransition, intentID)
	})
}

// FindIntentCandidates lists unmatched intents sharing the stream's
// (sender, receiver, rate), newest first. TransactionHash and
// CreatedAtOrBefore narrow the result when set.
func (s *SQLiteStorage) FindIntentCandidates(ctx context.Context, query model.IntentQuery) ([]model.DonationIntent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(query.Sender, "sender"); err != nil {
		return nil, err
	}
	if err := validateString(query.Receiver, "receiver"); err != nil {
		return nil, err
	}

	sqlQuery := `SELECT ` + intentColumns + ` FROM donation_intents
		WHERE sender = ? AND receiver = ? AND expected_flow_rate = ? AND matched = 0`
	args := []any{query.Sender, query.Receiver, query.FlowRate.String()}

	if query.TransactionHash != "" {
		sqlQuery += " AND transaction_hash = ?"
		args = append(args, query.TransactionHash)
	}
	if query.CreatedAtOrBefore != nil {
		sqlQuery += " AND created_at <= ?"
		args = append(args, unixOf(*query.CreatedAtOrBefore))
	}
	sqlQuery += " ORDER BY created_at DESC, rowid DESC"

	return s.queryIntents(ctx, sqlQuery, args...)
}

// ListPendingIntents lists unmatched intents created at or before createdBefore, oldest first.
func (s *SQLiteStorage) ListPendingIntents(ctx context.Context, createdBefore time.Time, limit int) ([]model.DonationIntent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + intentColumns + ` FROM donation_intents
		WHERE matched = 0 AND created_at <= ?
		ORDER BY created_at ASC, rowid ASC`
	args := []any{unixOf(createdBefore)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryIntents(ctx, query, args...)
}

func (s *SQLiteStorage) queryIntents(ctx context.Context, query string, args ...any) ([]model.DonationIntent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query donation intents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var intents []model.DonationIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, *intent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating donation intents: %w", err)
	}
	return intents, nil
}

// ClaimIntent marks the intent matched to the event and moves the event to
// matched in one transaction. Losing the intent to a concurrent claim yields
// ErrConstraintViolation; an event that is no longer matchable yields
// ErrInvalidTransition. Neither leaves partial state behind.
func (s *SQLiteStorage) ClaimIntent(ctx context.Context, claim service.IntentClaim) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(claim.IntentID, "intentID"); err != nil {
		return err
	}
	if err := validateString(claim.EventID, "eventID"); err != nil {
		return err
	}
	if claim.Confidence != model.ConfidenceExact && claim.Confidence != model.ConfidenceFuzzy {
		return fmt.Errorf("%w: claim confidence %q", ErrInvalidIntent, claim.Confidence)
	}
	if claim.At.IsZero() {
		claim.At = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE donation_intents
			SET matched = 1, matched_event_id = ?, matched_at = ?
			WHERE id = ? AND matched = 0
		`, claim.EventID, unixOf(claim.At), claim.IntentID)
		if isConstraintErr(err) {
			return fmt.Errorf("%w: event %s already attributed", common.ErrConstraintViolation, claim.EventID)
		}
		if err != nil {
			return fmt.Errorf("failed to claim intent %s: %w", claim.IntentID, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			if _, err := s.getIntentTx(ctx, tx, claim.IntentID); err != nil {
				return err
			}
			return fmt.Errorf("%w: intent %s already matched", common.ErrConstraintViolation, claim.IntentID)
		}

		err = s.transitionTx(ctx, tx, claim.EventID,
			[]model.EventState{model.StateIngested, model.StateUnmatched},
			`state = 'matched', intent_id = ?, confidence = ?, last_error = NULL`,
			claim.IntentID, string(claim.Confidence))
		if isConstraintErr(err) {
			return fmt.Errorf("%w: intent %s already attributed", common.ErrConstraintViolation, claim.IntentID)
		}
		return err
	})
}

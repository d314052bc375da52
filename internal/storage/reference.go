package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

// UpsertTokenHolder stores a holder, replacing the tag of an existing (project, address) pair.
func (s *SQLiteStorage) UpsertTokenHolder(ctx context.Context, holder *model.TokenHolder) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if holder == nil {
		return fmt.Errorf("%w: token holder", ErrNilParameter)
	}
	if err := validateString(holder.ProjectName, "projectName"); err != nil {
		return err
	}
	if err := validateString(holder.Address, "address"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_holders (project_name, address, tag) VALUES (?, ?, ?)
		ON CONFLICT(project_name, address) DO UPDATE SET tag = excluded.tag
	`, holder.ProjectName, holder.Address, stringArg(holder.Tag))
	if err != nil {
		return fmt.Errorf("failed to upsert token holder: %w", err)
	}
	return nil
}

// GetTokenHolders lists every project entry for an address.
func (s *SQLiteStorage) GetTokenHolders(ctx context.Context, address string) ([]model.TokenHolder, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(address, "address"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_name, address, tag FROM token_holders
		WHERE address = ?
		ORDER BY project_name
	`, address)
	if err != nil {
		return nil, fmt.Errorf("failed to query token holders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var holders []model.TokenHolder
	for rows.Next() {
		var (
			holder model.TokenHolder
			tag    sql.NullString
		)
		if err := rows.Scan(&holder.ProjectName, &holder.Address, &tag); err != nil {
			return nil, fmt.Errorf("failed to scan token holder: %w", err)
		}
		holder.Tag = tag.String
		holders = append(holders, holder)
	}
	return holders, rows.Err()
}

// SaveVestingSchedule stores or replaces a schedule after checking start <= cliff <= end.
func (s *SQLiteStorage) SaveVestingSchedule(ctx context.Context, schedule *model.VestingSchedule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if schedule == nil {
		return fmt.Errorf("%w: vesting schedule", ErrNilParameter)
	}
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("invalid vesting schedule: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vesting_schedules (name, start_at, cliff_at, end_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			start_at = excluded.start_at,
			cliff_at = excluded.cliff_at,
			end_at = excluded.end_at
	`, schedule.Name, unixOf(schedule.Start), unixOf(schedule.Cliff), unixOf(schedule.End))
	if isConstraintErr(err) {
		return fmt.Errorf("%w: vesting schedule %s", common.ErrConstraintViolation, schedule.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to save vesting schedule: %w", err)
	}
	return nil
}

// GetVestingSchedule retrieves a schedule by name.
func (s *SQLiteStorage) GetVestingSchedule(ctx context.Context, name string) (*model.VestingSchedule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT name, start_at, cliff_at, end_at FROM vesting_schedules WHERE name = ?`, name)
	schedule, err := scanVesting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vesting schedule %s: %w", name, common.ErrNotFound)
	}
	return schedule, err
}

// ListVestingSchedules returns all schedules ordered by start.
func (s *SQLiteStorage) ListVestingSchedules(ctx context.Context) ([]model.VestingSchedule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, start_at, cliff_at, end_at FROM vesting_schedules ORDER BY start_at, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vesting schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []model.VestingSchedule
	for rows.Next() {
		schedule, err := scanVesting(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

func scanVesting(row rowScanner) (*model.VestingSchedule, error) {
	var (
		schedule           model.VestingSchedule
		start, cliff, end_ int64
	)
	if err := row.Scan(&schedule.Name, &start, &cliff, &end_); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan vesting schedule: %w", err)
	}
	schedule.Start = timeOf(start)
	schedule.Cliff = timeOf(cliff)
	schedule.End = timeOf(end_)
	return &schedule, nil
}

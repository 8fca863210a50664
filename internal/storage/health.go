package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordHealthCheck upserts the health row for a provider. Success and
// error counters accumulate across checks; only the matching counter
// increments per call.
func (s *Store) RecordHealthCheck(ctx context.Context, provider string, healthy bool, responseTime time.Duration, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	ms := int(responseTime.Milliseconds())

	successInc, errorInc := 1, 0
	if !healthy {
		successInc, errorInc = 0, 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_health (provider, is_healthy, last_check,
			response_time_ms, error_count, success_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			is_healthy = excluded.is_healthy,
			last_check = excluded.last_check,
			response_time_ms = excluded.response_time_ms,
			error_count = error_count + excluded.error_count,
			success_count = success_count + excluded.success_count,
			last_error = excluded.last_error`,
		provider, boolToInt(healthy), now, ms, errorInc, successInc, errMsg)
	if err != nil {
		return fmt.Errorf("recording health check for %s: %w", provider, err)
	}
	return nil
}

// GetProviderHealth returns the health row for one provider.
func (s *Store) GetProviderHealth(ctx context.Context, provider string) (*ProviderHealth, error) {
	row := s.db.QueryRowContext(ctx, healthSelect+" WHERE provider = ?", provider)
	return scanHealth(row)
}

// ListProviderHealth returns health rows for all providers, sorted by name.
func (s *Store) ListProviderHealth(ctx context.Context) ([]*ProviderHealth, error) {
	rows, err := s.db.QueryContext(ctx, healthSelect+" ORDER BY provider ASC")
	if err != nil {
		return nil, fmt.Errorf("listing provider health: %w", err)
	}
	defer rows.Close()

	var out []*ProviderHealth
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing provider health: %w", err)
	}
	return out, nil
}

// ResetProviderHealth clears the accumulated counters and error for a
// provider, leaving it marked healthy.
func (s *Store) ResetProviderHealth(ctx context.Context, provider string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_health
		SET is_healthy = 1, error_count = 0, success_count = 0, last_error = ''
		WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("resetting health for %s: %w", provider, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resetting health for %s: %w", provider, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const healthSelect = `
	SELECT provider, is_healthy, last_check, response_time_ms,
		error_count, success_count, last_error
	FROM provider_health`

func scanHealth(row rowScanner) (*ProviderHealth, error) {
	var (
		h         ProviderHealth
		healthy   int
		lastCheck sql.NullString
	)
	err := row.Scan(&h.Provider, &healthy, &lastCheck, &h.ResponseTimeMS,
		&h.ErrorCount, &h.SuccessCount, &h.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider health: %w", err)
	}
	h.IsHealthy = healthy != 0
	if lastCheck.Valid && lastCheck.String != "" {
		if h.LastCheck, err = time.Parse(time.RFC3339, lastCheck.String); err != nil {
			return nil, fmt.Errorf("parsing last_check for %s: %w", h.Provider, err)
		}
	}
	return &h, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

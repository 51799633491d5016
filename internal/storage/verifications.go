package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

// CreateVerification inserts a new verification session.
func (s *SQLiteStorage) CreateVerification(ctx context.Context, v *model.VerificationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVerification(v); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}

	var retryOf sql.NullString
	if v.RetryOf != "" {
		retryOf = sql.NullString{String: v.RetryOf, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO verifications (id, product_id, status, retry_of, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		v.ID,
		v.Product.ID,
		string(v.Status),
		retryOf,
		string(data),
		formatTime(v.CreatedAt),
		formatTime(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: verification %s", ErrDuplicateID, v.ID)
	}

	slog.Debug("Created verification session",
		"verification_id", v.ID,
		"product_id", v.Product.ID)

	return nil
}

// GetVerification retrieves a verification session by ID.
func (s *SQLiteStorage) GetVerification(ctx context.Context, id string) (*model.VerificationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "verification ID"); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM verifications WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("verification session %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	var v model.VerificationSession
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to decode verification %s: %w", id, err)
	}
	return &v, nil
}

// UpdateVerification replaces a stored verification session.
// A session deleted in the meantime is reported as not found rather than recreated.
func (s *SQLiteStorage) UpdateVerification(ctx context.Context, v *model.VerificationSession) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateVerification(v); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verification: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE verifications SET status = ?, data = ?, updated_at = ?
		WHERE id = ?`,
		string(v.Status),
		string(data),
		formatTime(v.UpdatedAt),
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update verification: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return common.NotFoundf("verification session %s", v.ID)
	}
	return nil
}

// DeleteVerification removes a verification session. Absent IDs are ignored.
func (s *SQLiteStorage) DeleteVerification(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "verification ID"); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM verifications WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete verification: %w", err)
	}
	return nil
}

// ListVerifications returns all verification sessions, newest first.
func (s *SQLiteStorage) ListVerifications(ctx context.Context) ([]*model.VerificationSession, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM verifications ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.VerificationSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		var v model.VerificationSession
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to decode verification: %w", err)
		}
		out = append(out, &v)
	}

	return out, rows.Err()
}

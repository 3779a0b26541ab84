package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// PostgresBlockListRepository stores blocked addresses in the blocklist table
type PostgresBlockListRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresBlockListRepository(db *sql.DB, logger *slog.Logger) *PostgresBlockListRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresBlockListRepository{db: db, logger: logger}
}

// Add inserts ip. An existing entry is reported as ErrAlreadyBlocked.
func (r *PostgresBlockListRepository) Add(ctx context.Context, e domain.BlockEntry) error {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blocklist (ip, reason, blocked_at) VALUES ($1, $2, $3)`,
		e.IP, e.Reason, e.BlockedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyBlocked
		}
		return fmt.Errorf("failed to block address: %w", err)
	}
	return nil
}

// Remove deletes ip and reports whether it was present
func (r *PostgresBlockListRepository) Remove(ctx context.Context, ip string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blocklist WHERE ip = $1`, ip)
	if err != nil {
		return false, fmt.Errorf("failed to unblock address: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *PostgresBlockListRepository) Get(ctx context.Context, ip string) (*domain.BlockEntry, error) {
	e := &domain.BlockEntry{}
	err := r.db.QueryRowContext(ctx,
		`SELECT ip, reason, blocked_at FROM blocklist WHERE ip = $1`, ip,
	).Scan(&e.IP, &e.Reason, &e.BlockedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get block entry: %w", err)
	}
	return e, nil
}

// List returns all entries, newest first
func (r *PostgresBlockListRepository) List(ctx context.Context) ([]domain.BlockEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ip, reason, blocked_at FROM blocklist ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist: %w", err)
	}
	defer rows.Close()

	var out []domain.BlockEntry
	for rows.Next() {
		var e domain.BlockEntry
		if err := rows.Scan(&e.IP, &e.Reason, &e.BlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneBefore drops entries blocked before cutoff
func (r *PostgresBlockListRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blocklist WHERE blocked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune blocklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(n), nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/aryan0dhankhar/sitefactory/internal/domain"
)

// PostgresAccountRepository implements domain.AccountRepository using PostgreSQL
type PostgresAccountRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAccountRepository creates a new account repository
func NewPostgresAccountRepository(db *sql.DB, logger *slog.Logger) *PostgresAccountRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAccountRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new account. Unique violations map to ErrEmailTaken or
// ErrUsernameTaken depending on the constraint hit.
func (r *PostgresAccountRepository) Create(ctx context.Context, a *domain.AdminAccount) error {
	query := `
		INSERT INTO admin_accounts (email, username, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		a.Email,
		a.Username,
		a.DisplayName,
		a.PasswordHash,
	).Scan(&a.ID, &a.CreatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if strings.Contains(pqErr.Constraint, "email") {
				return domain.ErrEmailTaken
			}
			return domain.ErrUsernameTaken
		}
		r.logger.Error("failed to create account",
			slog.String("email", a.Email),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

func (r *PostgresAccountRepository) get(ctx context.Context, where string, arg any) (*domain.AdminAccount, error) {
	a := &domain.AdminAccount{}
	query := `
		SELECT id, email, username, display_name, password_hash, created_at
		FROM admin_accounts
		WHERE ` + where

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID,
		&a.Email,
		&a.Username,
		&a.DisplayName,
		&a.PasswordHash,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetByEmail retrieves an account by email, case-insensitively
func (r *PostgresAccountRepository) GetByEmail(ctx context.Context, email string) (*domain.AdminAccount, error) {
	return r.get(ctx, "lower(email) = lower($1)", email)
}

// GetByID retrieves an account by ID
func (r *PostgresAccountRepository) GetByID(ctx context.Context, id int64) (*domain.AdminAccount, error) {
	return r.get(ctx, "id = $1", id)
}

// UsernameExists reports whether username is in use
func (r *PostgresAccountRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_accounts WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// BindRole grants a role on one site. Re-binding the same pair is a no-op.
func (r *PostgresAccountRepository) BindRole(ctx context.Context, b domain.RoleBinding) error {
	query := `
		INSERT INTO role_bindings (account_id, site_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, site_id) DO UPDATE SET role = EXCLUDED.role
	`
	if _, err := r.db.ExecContext(ctx, query, b.AccountID, b.SiteID, b.Role); err != nil {
		return fmt.Errorf("failed to bind role: %w", err)
	}
	return nil
}

// UnbindRole removes the account's binding on one site
func (r *PostgresAccountRepository) UnbindRole(ctx context.Context, accountID, siteID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM role_bindings WHERE account_id = $1 AND site_id = $2`, accountID, siteID)
	if err != nil {
		return fmt.Errorf("failed to unbind role: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBindings returns the account's bindings in creation order
func (r *PostgresAccountRepository) ListBindings(ctx context.Context, accountID int64) ([]domain.RoleBinding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, site_id, role, created_at
		FROM role_bindings
		WHERE account_id = $1
		ORDER BY created_at, site_id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var out []domain.RoleBinding
	for rows.Next() {
		var b domain.RoleBinding
		if err := rows.Scan(&b.AccountID, &b.SiteID, &b.Role, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

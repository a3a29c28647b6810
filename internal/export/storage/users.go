package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/csv-export-service/internal/export/domain"
	"github.com/jmoiron/sqlx"
)

// UserSource counts and streams rows of the users table
type UserSource struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewUserSource creates a new UserSource instance
func NewUserSource(db *sqlx.DB, logger *slog.Logger) *UserSource {
	return &UserSource{
		db:     db,
		logger: logger,
	}
}

const userColumns = `id, name, email, signup_date, country_code, subscription_tier, lifetime_value`

// buildWhere turns the filters into a conjunction; absent filters are omitted
func buildWhere(filters domain.Filters) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filters.CountryCode != nil {
		conds = append(conds, "country_code = ?")
		args = append(args, *filters.CountryCode)
	}
	if filters.SubscriptionTier != nil {
		conds = append(conds, "subscription_tier = ?")
		args = append(args, *filters.SubscriptionTier)
	}
	if filters.MinLifetimeValue != nil {
		conds = append(conds, "lifetime_value >= ?")
		args = append(args, *filters.MinLifetimeValue)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountUsers counts the rows matching the filters
func (s *UserSource) CountUsers(ctx context.Context, filters domain.Filters) (int64, error) {
	where, args := buildWhere(filters)
	query := s.db.Rebind("SELECT COUNT(*) FROM users" + where)

	var total int64
	if err := s.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, nil
}

// StreamUsers iterates the matching rows in id order without buffering the
// result set. Errors returned by fn stop the scan and are returned unwrapped.
func (s *UserSource) StreamUsers(ctx context.Context, filters domain.Filters, fn func(*domain.User) error) error {
	where, args := buildWhere(filters)
	query := s.db.Rebind("SELECT " + userColumns + " FROM users" + where + " ORDER BY id")

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var user domain.User
		if err := rows.StructScan(&user); err != nil {
			return fmt.Errorf("failed to scan user: %w", err)
		}
		if err := fn(&user); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate users: %w", err)
	}
	return nil
}

// InsertUsers inserts users in a single transaction; ids are assigned by the database
func (s *UserSource) InsertUsers(ctx context.Context, users []domain.User) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO users (name, email, signup_date, country_code, subscription_tier, lifetime_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare user insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.Name, u.Email, u.SignupDate.UTC(), u.CountryCode, u.SubscriptionTier, u.LifetimeValue); err != nil {
			return fmt.Errorf("failed to insert user %s: %w", u.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users: %w", err)
	}

	s.logger.Info("Users inserted",
		slog.Int("count", len(users)),
	)
	return nil
}

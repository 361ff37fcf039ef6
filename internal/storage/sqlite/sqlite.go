package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"tokenauth/internal/domain/models"
	"tokenauth/internal/storage"
	"tokenauth/migrations"
)

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Migrate applies the embedded migrations to the database at
// storagePath. It reports whether anything changed.
func Migrate(storagePath, migrationsTable string) (bool, error) {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return false, fmt.Errorf("%s: source: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance(
		"iofs",
		src,
		fmt.Sprintf("sqlite3://%s?x-migrations-table=%s", storagePath, migrationsTable),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, pass_hash, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx,
		user.Username, user.Email, user.FirstName, user.LastName, user.PassHash, user.Disabled, s.now().UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// User looks a user up by username or email.
func (s *Storage) User(ctx context.Context, login string) (*models.User, error) {
	const op = "storage.sqlite.User"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, first_name, last_name, pass_hash, disabled, verified_email, last_login, created_at
		FROM users
		WHERE username = ? OR email = ?
		ORDER BY username = ? DESC
		LIMIT 1`, login, login, login)

	var (
		user      models.User
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FirstName, &user.LastName,
		&user.PassHash, &user.Disabled, &user.VerifiedEmail, &lastLogin, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLogin = &t
	}

	return &user, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, username string, passHash []byte) error {
	return s.updateUser(ctx, "storage.sqlite.UpdatePassword", "pass_hash = ?", username, passHash)
}

func (s *Storage) StampLastLogin(ctx context.Context, username string, at time.Time) error {
	return s.updateUser(ctx, "storage.sqlite.StampLastLogin", "last_login = ?", username, at.UTC())
}

func (s *Storage) MarkEmailVerified(ctx context.Context, username, email string) error {
	return s.updateUser(ctx, "storage.sqlite.MarkEmailVerified", "verified_email = ?", username, email)
}

func (s *Storage) updateUser(ctx context.Context, op, set, username string, value any) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET "+set+", updated_at = ? WHERE username = ?",
		value, s.now().UTC(), username,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
)

var ErrNotFound = errors.New("user not found")

// Service manages users.
type Service struct {
	logger *slog.Logger
}

// NewService creates an identity service.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "identity")),
	}
}

const userColumns = `id, phone, display_name, role, created_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
		u         User
	)
	if err := row.Scan(&id, &u.Phone, &u.DisplayName, &u.Role, &createdAt); err != nil {
		return User{}, err
	}
	u.ID = dbpkg.UUIDToString(id)
	u.CreatedAt = dbpkg.TimeFromPg(createdAt)
	return u, nil
}

// ResolveByPhone returns the user for phone, creating one lazily on first
// contact. The insert uses ON CONFLICT DO NOTHING so a racing insert never
// aborts the caller's transaction; the loser re-reads the winner's row.
func (s *Service) ResolveByPhone(ctx context.Context, q dbpkg.Querier, phone, displayName string) (User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return User{}, fmt.Errorf("phone is required")
	}

	u, err := s.getByPhone(ctx, q, phone)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	row := q.QueryRow(ctx,
		`INSERT INTO users (phone, display_name) VALUES ($1, $2)
		 ON CONFLICT (phone) DO NOTHING RETURNING `+userColumns,
		phone, strings.TrimSpace(displayName),
	)
	u, err = scanUser(row)
	if err == nil {
		s.logger.Info("user created", slog.String("user_id", u.ID))
		return u, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return s.getByPhone(ctx, q, phone)
	}
	return User{}, fmt.Errorf("create user: %w", err)
}

func (s *Service) getByPhone(ctx context.Context, q dbpkg.Querier, phone string) (User, error) {
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("load user by phone: %w", err)
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, q dbpkg.Querier, userID string) (User, error) {
	pgID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return User{}, ErrNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, pgID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// List returns all users ordered by creation time.
func (s *Service) List(ctx context.Context, q dbpkg.Querier) ([]User, error) {
	rows, err := q.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetRole updates a user's role.
func (s *Service) SetRole(ctx context.Context, q dbpkg.Querier, userID, role string) (User, error) {
	if !ValidRole(role) {
		return User{}, fmt.Errorf("invalid role: %s", role)
	}
	pgID, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return User{}, ErrNotFound
	}
	row := q.QueryRow(ctx,
		`UPDATE users SET role = $2 WHERE id = $1 RETURNING `+userColumns,
		pgID, role,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("set role: %w", err)
	}
	s.logger.Info("user role updated", slog.String("user_id", u.ID), slog.String("role", role))
	return u, nil
}

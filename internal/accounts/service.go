// Package accounts manages admin API accounts and password verification.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// RoleAdmin is the only account role currently issued.
const RoleAdmin = "admin"

// Account is an admin API account.
type Account struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service manages accounts.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates an accounts service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "accounts")),
	}
}

// Create creates an account with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, username, password, role string) (Account, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Account{}, fmt.Errorf("username is required")
	}
	if password == "" {
		return Account{}, fmt.Errorf("password is required")
	}
	if role == "" {
		role = RoleAdmin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, password_hash, role) VALUES ($1, $2, $3) RETURNING id, created_at`,
		username, string(hash), role,
	).Scan(&id, &createdAt)
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}

	return Account{
		ID:        dbpkg.UUIDToString(id),
		Username:  username,
		Role:      role,
		CreatedAt: dbpkg.TimeFromPg(createdAt),
	}, nil
}

// Authenticate verifies username and password and returns the account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	username = strings.TrimSpace(username)

	var (
		id        pgtype.UUID
		hash      string
		role      string
		createdAt pgtype.Timestamptz
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, password_hash, role, created_at FROM accounts WHERE username = $1`,
		username,
	).Scan(&id, &hash, &role, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, fmt.Errorf("load account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	return Account{
		ID:        dbpkg.UUIDToString(id),
		Username:  username,
		Role:      role,
		CreatedAt: dbpkg.TimeFromPg(createdAt),
	}, nil
}

// EnsureAdmin creates the initial admin account when it does not exist yet.
// A concurrent create racing on the username unique index is treated as success.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE username = $1)`,
		strings.TrimSpace(username),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check admin account: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := s.Create(ctx, username, password, RoleAdmin); err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return nil
		}
		return err
	}
	s.logger.Info("admin account created", slog.String("username", username))
	return nil
}

package conversation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrations "github.com/fieldwalk/fieldwalk/db"
	"github.com/fieldwalk/fieldwalk/internal/identity"
)

// These tests run against a real database; set TEST_POSTGRES_DSN to enable
// them.

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	migrationsFS, err := fs.Sub(migrations.MigrationsFS, "migrations")
	require.NoError(t, err)
	source, err := iofs.New(migrationsFS, ".")
	require.NoError(t, err)
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newUserID(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	users := identity.NewService(nil)
	phone := fmt.Sprintf("1555%010d", time.Now().UnixNano()%1e10)
	u, err := users.ResolveByPhone(context.Background(), pool, phone, "Test User")
	require.NoError(t, err)
	return u.ID
}

func TestLoadCreatesAndReuses(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(nil)
	userID := newUserID(t, pool)

	conv, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)
	assert.True(t, conv.Active)
	assert.Equal(t, userID, conv.UserID)

	again, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestConflictingInsertDoesNotAbortTransaction(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(nil)
	userID := newUserID(t, pool)

	existing, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// The insert Load issues when it loses the create race is a conflict no-op
	// rather than a unique violation. A violation would abort the transaction
	// and poison every later statement in it.
	var id pgtype.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO conversations (user_id) VALUES ($1)
		 ON CONFLICT (user_id) WHERE active DO NOTHING RETURNING id`,
		existing.UserID,
	).Scan(&id)
	require.ErrorIs(t, err, pgx.ErrNoRows)

	// The transaction stays usable.
	require.NoError(t, store.Save(ctx, tx, existing.ID, WorkflowContext{LastIntent: "help"}))
	require.NoError(t, tx.Commit(ctx))
}

func TestDeactivateClearsContext(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(nil)
	userID := newUserID(t, pool)

	conv, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, pool, conv.ID, WorkflowContext{
		CurrentWorkOrderID: "wo-1", LastIntent: "start_inspection",
	}))
	require.NoError(t, store.Deactivate(ctx, pool, conv.ID))

	var (
		active bool
		raw    []byte
	)
	err = pool.QueryRow(ctx,
		`SELECT active, context FROM conversations WHERE id = $1`, conv.ID,
	).Scan(&active, &raw)
	require.NoError(t, err)
	assert.False(t, active)
	assert.JSONEq(t, `{}`, string(raw))

	// The next load starts a fresh conversation with an empty context.
	next, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, next.ID)
	assert.Equal(t, WorkflowContext{}, next.Context)
}

func TestAppendInboundDeduplicates(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewStore(nil)
	userID := newUserID(t, pool)

	conv, err := store.Load(ctx, pool, userID)
	require.NoError(t, err)

	providerID := fmt.Sprintf("wamid-%d", time.Now().UnixNano())
	dup, err := store.AppendInbound(ctx, pool, conv.ID, providerID, "hello", "")
	require.NoError(t, err)
	assert.False(t, dup)

	seen, err := store.SeenProviderMessage(ctx, pool, providerID)
	require.NoError(t, err)
	assert.True(t, seen)

	dup, err = store.AppendInbound(ctx, pool, conv.ID, providerID, "hello again", "")
	require.NoError(t, err)
	assert.True(t, dup)
}

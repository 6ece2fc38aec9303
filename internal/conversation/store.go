package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
)

var ErrNotFound = errors.New("conversation not found")

// Store manages conversation rows and their message log. All methods take a
// db.Querier so the workflow engine can run a whole transition inside one
// transaction.
type Store struct {
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		logger: log.With(slog.String("service", "conversation")),
	}
}

// Load returns the active conversation for a user, creating one when none
// exists. The returned row is locked FOR UPDATE, so concurrent transitions for
// the same user serialize on it. The insert uses ON CONFLICT DO NOTHING
// against the one-active-per-user index: a unique violation would abort the
// caller's transaction, after which no re-read can succeed.
func (s *Store) Load(ctx context.Context, q dbpkg.Querier, userID string) (Conversation, error) {
	pgUser, err := dbpkg.ParseUUID(userID)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid user id: %w", err)
	}

	conv, err := s.lockActive(ctx, q, pgUser)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	row := q.QueryRow(ctx,
		`INSERT INTO conversations (user_id) VALUES ($1)
		 ON CONFLICT (user_id) WHERE active DO NOTHING
		 RETURNING id, user_id, active, context, last_activity_at, created_at`,
		pgUser,
	)
	conv, err = s.scan(row)
	if err == nil {
		s.logger.Info("conversation started", slog.String("conversation_id", conv.ID), slog.String("user_id", userID))
		return conv, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race; lock the winner's row.
		return s.lockActive(ctx, q, pgUser)
	}
	return Conversation{}, fmt.Errorf("create conversation: %w", err)
}

func (s *Store) lockActive(ctx context.Context, q dbpkg.Querier, pgUser pgtype.UUID) (Conversation, error) {
	row := q.QueryRow(ctx,
		`SELECT id, user_id, active, context, last_activity_at, created_at
		 FROM conversations WHERE user_id = $1 AND active FOR UPDATE`,
		pgUser,
	)
	conv, err := s.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) scan(row pgx.Row) (Conversation, error) {
	var (
		id             pgtype.UUID
		userID         pgtype.UUID
		rawContext     []byte
		lastActivityAt pgtype.Timestamptz
		createdAt      pgtype.Timestamptz
		conv           Conversation
	)
	if err := row.Scan(&id, &userID, &conv.Active, &rawContext, &lastActivityAt, &createdAt); err != nil {
		return Conversation{}, err
	}
	conv.ID = dbpkg.UUIDToString(id)
	conv.UserID = dbpkg.UUIDToString(userID)
	conv.LastActivityAt = dbpkg.TimeFromPg(lastActivityAt)
	conv.CreatedAt = dbpkg.TimeFromPg(createdAt)
	conv.Context = decodeContext(rawContext, s.logger, conv.ID)
	return conv, nil
}

// decodeContext parses the stored context JSON. A corrupt or unreadable value
// resets to an empty context rather than wedging the conversation; unknown
// fields from older versions are dropped silently.
func decodeContext(raw []byte, logger *slog.Logger, conversationID string) WorkflowContext {
	if len(raw) == 0 {
		return WorkflowContext{}
	}
	var wctx WorkflowContext
	if err := json.Unmarshal(raw, &wctx); err != nil {
		logger.Warn("conversation context corrupt, resetting",
			slog.String("conversation_id", conversationID), slog.Any("error", err))
		return WorkflowContext{}
	}
	return wctx
}

// Save persists the workflow context and bumps the activity timestamp.
func (s *Store) Save(ctx context.Context, q dbpkg.Querier, conversationID string, wctx WorkflowContext) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	raw, err := json.Marshal(wctx)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	tag, err := q.Exec(ctx,
		`UPDATE conversations SET context = $2, last_activity_at = now() WHERE id = $1`,
		pgID, raw,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate closes a conversation and clears its context, so a reactivation
// bug can never resurrect stale cursor state. The next inbound message from
// the user starts a fresh conversation.
func (s *Store) Deactivate(ctx context.Context, q dbpkg.Querier, conversationID string) error {
	pgID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := q.Exec(ctx, `UPDATE conversations SET active = FALSE, context = '{}' WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("deactivate conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Info("conversation closed", slog.String("conversation_id", conversationID))
	return nil
}

// SeenProviderMessage reports whether a provider message id was already
// logged. The unique index on provider_message_id backstops the race between
// this check and the insert.
func (s *Store) SeenProviderMessage(ctx context.Context, q dbpkg.Querier, providerMessageID string) (bool, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return false, nil
	}
	var seen bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_messages WHERE provider_message_id = $1)`,
		providerMessageID,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check provider message: %w", err)
	}
	return seen, nil
}

// AppendInbound logs an inbound message. It returns duplicate=true when the
// provider message id was seen before, which callers treat as a replayed
// webhook delivery and drop without side effects.
func (s *Store) AppendInbound(ctx context.Context, q dbpkg.Querier, conversationID, providerMessageID, body, mediaID string) (duplicate bool, err error) {
	pgConv, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return false, ErrNotFound
	}

	var pgProviderID pgtype.Text
	if strings.TrimSpace(providerMessageID) != "" {
		pgProviderID = pgtype.Text{String: strings.TrimSpace(providerMessageID), Valid: true}
	}
	pgMedia := pgtype.UUID{}
	if strings.TrimSpace(mediaID) != "" {
		pgMedia, err = dbpkg.ParseUUID(mediaID)
		if err != nil {
			return false, fmt.Errorf("invalid media id: %w", err)
		}
	}

	// A replayed provider message id is a conflict no-op, not a unique
	// violation, so the surrounding transaction stays usable.
	tag, err := q.Exec(ctx,
		`INSERT INTO conversation_messages (conversation_id, direction, provider_message_id, body, media_id)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider_message_id) WHERE provider_message_id IS NOT NULL DO NOTHING`,
		pgConv, DirectionInbound, pgProviderID, body, pgMedia,
	)
	if err != nil {
		return false, fmt.Errorf("append inbound message: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

// AppendOutbound logs an outbound reply.
func (s *Store) AppendOutbound(ctx context.Context, q dbpkg.Querier, conversationID, body string) error {
	pgConv, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return ErrNotFound
	}
	_, err = q.Exec(ctx,
		`INSERT INTO conversation_messages (conversation_id, direction, body) VALUES ($1, $2, $3)`,
		pgConv, DirectionOutbound, body,
	)
	if err != nil {
		return fmt.Errorf("append outbound message: %w", err)
	}
	return nil
}

// Messages returns the message log of a conversation, oldest first.
func (s *Store) Messages(ctx context.Context, q dbpkg.Querier, conversationID string) ([]Message, error) {
	pgConv, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	rows, err := q.Query(ctx,
		`SELECT id, conversation_id, direction, provider_message_id, body, media_id, created_at
		 FROM conversation_messages WHERE conversation_id = $1 ORDER BY created_at`,
		pgConv,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			id         pgtype.UUID
			convID     pgtype.UUID
			providerID pgtype.Text
			mediaID    pgtype.UUID
			createdAt  pgtype.Timestamptz
			m          Message
		)
		if err := rows.Scan(&id, &convID, &m.Direction, &providerID, &m.Body, &mediaID, &createdAt); err != nil {
			return nil, err
		}
		m.ID = dbpkg.UUIDToString(id)
		m.ConversationID = dbpkg.UUIDToString(convID)
		m.ProviderMessageID = dbpkg.TextToString(providerID)
		m.MediaID = dbpkg.UUIDToString(mediaID)
		m.CreatedAt = dbpkg.TimeFromPg(createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

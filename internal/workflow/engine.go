package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/conversation"
	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/intent"
	"github.com/fieldwalk/fieldwalk/internal/media"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

// ConversationStore persists conversation state and the message log.
type ConversationStore interface {
	Load(ctx context.Context, q dbpkg.Querier, userID string) (conversation.Conversation, error)
	Save(ctx context.Context, q dbpkg.Querier, conversationID string, wctx conversation.WorkflowContext) error
	Deactivate(ctx context.Context, q dbpkg.Querier, conversationID string) error
	SeenProviderMessage(ctx context.Context, q dbpkg.Querier, providerMessageID string) (bool, error)
	AppendInbound(ctx context.Context, q dbpkg.Querier, conversationID, providerMessageID, body, mediaID string) (bool, error)
	AppendOutbound(ctx context.Context, q dbpkg.Querier, conversationID, body string) error
}

// IdentityResolver maps phone numbers to users.
type IdentityResolver interface {
	ResolveByPhone(ctx context.Context, q dbpkg.Querier, phone, displayName string) (identity.User, error)
}

// WorkOrders is the work order surface the transitions use.
type WorkOrders interface {
	Get(ctx context.Context, q dbpkg.Querier, workOrderID string) (workorder.WorkOrder, error)
	GetByCode(ctx context.Context, q dbpkg.Querier, code int64) (workorder.WorkOrder, error)
	ListForInspector(ctx context.Context, q dbpkg.Querier, inspectorID string, day time.Time) ([]workorder.WorkOrder, error)
	MarkInProgress(ctx context.Context, q dbpkg.Querier, workOrderID string) error
	MarkCompleted(ctx context.Context, q dbpkg.Querier, workOrderID string) error
}

// Checklists is the checklist surface the transitions use.
type Checklists interface {
	EnsureInstance(ctx context.Context, q dbpkg.Querier, workOrderID, templateID string) (checklist.Instance, error)
	InstanceForWorkOrder(ctx context.Context, q dbpkg.Querier, workOrderID string) (checklist.Instance, error)
	Items(ctx context.Context, q dbpkg.Querier, instanceID string) ([]checklist.Item, error)
	ItemByPosition(ctx context.Context, q dbpkg.Querier, instanceID string, position int) (checklist.Item, error)
	GetItem(ctx context.Context, q dbpkg.Querier, itemID string) (checklist.Item, error)
	AddComment(ctx context.Context, q dbpkg.Querier, itemID, comment string) (checklist.Item, error)
	CompleteItem(ctx context.Context, q dbpkg.Querier, itemID string) (checklist.Item, error)
	MarkIssue(ctx context.Context, q dbpkg.Querier, itemID, note string) (checklist.Item, error)
	Pending(ctx context.Context, q dbpkg.Querier, instanceID string) ([]checklist.Item, error)
	Complete(ctx context.Context, q dbpkg.Querier, instanceID string) (checklist.Instance, error)
}

// MediaStore ingests and binds media assets.
type MediaStore interface {
	Ingest(ctx context.Context, q dbpkg.Querier, input media.IngestRequest) (media.Asset, error)
	Bind(ctx context.Context, q dbpkg.Querier, mediaID, itemID string) (media.Asset, error)
}

// Engine applies inbound messages to the workflow state machine.
type Engine struct {
	tx            dbpkg.TxRunner
	conversations ConversationStore
	users         IdentityResolver
	orders        WorkOrders
	checklists    Checklists
	media         MediaStore
	channels      *channel.Registry
	classifier    intent.Classifier
	minConfidence float64
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(
	log *slog.Logger,
	tx dbpkg.TxRunner,
	conversations ConversationStore,
	users IdentityResolver,
	orders WorkOrders,
	checklists Checklists,
	mediaStore MediaStore,
	channels *channel.Registry,
	classifier intent.Classifier,
	minConfidence float64,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		tx:            tx,
		conversations: conversations,
		users:         users,
		orders:        orders,
		checklists:    checklists,
		media:         mediaStore,
		channels:      channels,
		classifier:    classifier,
		minConfidence: minConfidence,
		logger:        log.With(slog.String("service", "workflow")),
		now:           time.Now,
		locks:         map[string]*sync.Mutex{},
	}
}

// userLock returns the per-sender mutex, creating it on first use. Together
// with the FOR UPDATE row lock it serializes transitions per user.
func (e *Engine) userLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// tctx carries the state one transition operates on.
type tctx struct {
	q      dbpkg.Querier
	user   identity.User
	conv   conversation.Conversation
	wctx   *conversation.WorkflowContext
	msg    channel.InboundMessage
	asset  *media.Asset
	result *Result
	ended  bool
}

func (t *tctx) reply(text string) {
	t.result.Replies = append(t.result.Replies, Reply{To: t.msg.From, Text: text})
}

func (t *tctx) trigger(tr Trigger) {
	tr.UserID = t.user.ID
	t.result.Triggers = append(t.result.Triggers, tr)
}

// HandleMessage runs one inbound message through the full pipeline: identity
// resolution, conversation load (locked), dedup, classification, transition,
// and context save. Everything runs in a single transaction, so a failure
// leaves no partial state and the webhook retry replays cleanly.
func (e *Engine) HandleMessage(ctx context.Context, msg channel.InboundMessage) (Result, error) {
	lock := e.userLock(msg.From)
	lock.Lock()
	defer lock.Unlock()

	result := Result{}
	err := e.tx.InTx(ctx, func(q dbpkg.Querier) error {
		user, err := e.users.ResolveByPhone(ctx, q, msg.From, msg.SenderName)
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}

		conv, err := e.conversations.Load(ctx, q, user.ID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}

		if msg.ProviderMessageID != "" {
			seen, err := e.conversations.SeenProviderMessage(ctx, q, msg.ProviderMessageID)
			if err != nil {
				return err
			}
			if seen {
				result = Result{Duplicate: true}
				return nil
			}
		}

		t := &tctx{
			q:      q,
			user:   user,
			conv:   conv,
			wctx:   &conv.Context,
			msg:    msg,
			result: &result,
		}

		if msg.Media != nil {
			if err := e.ingestInboundMedia(ctx, t); err != nil {
				e.logger.Warn("media ingest failed",
					slog.String("user_id", user.ID), slog.Any("error", err))
				t.reply(msgMediaFailed)
			}
		}

		mediaID := ""
		if t.asset != nil {
			mediaID = t.asset.ID
		}
		dup, err := e.conversations.AppendInbound(ctx, q, conv.ID, msg.ProviderMessageID, msg.Text, mediaID)
		if err != nil {
			return err
		}
		if dup {
			result = Result{Duplicate: true}
			return nil
		}

		in := e.classify(ctx, t)
		if err := e.apply(ctx, t, in); err != nil {
			return err
		}
		e.screenContextDeltas(in.ContextDeltas)

		e.bindPendingMedia(ctx, t)

		t.wctx.LastIntent = in.Name
		t.wctx.LastMessageID = msg.ProviderMessageID

		if t.ended {
			if err := e.conversations.Deactivate(ctx, q, conv.ID); err != nil {
				return err
			}
		} else {
			if err := e.conversations.Save(ctx, q, conv.ID, *t.wctx); err != nil {
				return err
			}
		}

		for _, reply := range result.Replies {
			if err := e.conversations.AppendOutbound(ctx, q, conv.ID, reply.Text); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// classify calls the classifier, degrading to the unknown intent on failure or
// low confidence. A bare media message maps to add_media without a round trip.
func (e *Engine) classify(ctx context.Context, t *tctx) intent.Intent {
	if t.msg.Text == "" && t.msg.Media != nil {
		return intent.Intent{Name: intent.AddMedia, Confidence: 1}
	}

	in, err := e.classifier.Classify(ctx, intent.Request{
		Text:               t.msg.Text,
		Role:               t.user.Role,
		CurrentWorkOrderID: t.wctx.CurrentWorkOrderID,
		CurrentItemID:      t.wctx.CurrentChecklistItemID,
		LastIntent:         t.wctx.LastIntent,
	})
	if err != nil {
		e.logger.Warn("classifier unavailable, degrading to unknown", slog.Any("error", err))
		return intent.Intent{Name: intent.Unknown}
	}
	if in.Confidence < e.minConfidence {
		e.logger.Debug("intent below confidence threshold",
			slog.String("intent", in.Name), slog.Float64("confidence", in.Confidence))
		// The classifier's conversational answer survives the degrade; only the
		// uncertain intent and its params are dropped.
		return intent.Intent{Name: intent.Unknown, DirectReply: in.DirectReply}
	}
	return in
}

// screenContextDeltas inspects classifier-proposed context changes. The
// persisted context carries exactly the fields the transitions set, so nothing
// here is ever copied into it; cursor fields the classifier tries to steer are
// logged as a misbehaving-classifier signal.
func (e *Engine) screenContextDeltas(deltas map[string]any) {
	for key := range deltas {
		if strings.HasPrefix(key, "current") {
			e.logger.Warn("classifier attempted to set workflow-owned context field",
				slog.String("key", key))
			continue
		}
		e.logger.Debug("ignoring advisory context delta", slog.String("key", key))
	}
}

// ingestInboundMedia downloads the provider media and stores it as an unbound
// asset. Binding to the current item happens after the transition ran.
func (e *Engine) ingestInboundMedia(ctx context.Context, t *tctx) error {
	adapter, ok := e.channels.Get(t.msg.Channel)
	if !ok {
		return fmt.Errorf("no adapter for channel %s", t.msg.Channel)
	}
	rc, ref, err := adapter.DownloadMedia(ctx, *t.msg.Media)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	defer rc.Close()

	asset, err := e.media.Ingest(ctx, t.q, media.IngestRequest{
		UserID:   t.user.ID,
		Reader:   rc,
		MimeType: ref.MimeType,
		Filename: ref.Filename,
	})
	if err != nil {
		return err
	}
	t.asset = &asset
	return nil
}

// bindPendingMedia attaches an ingested asset to the current checklist item.
// Without a current item the asset stays unbound and the user is told how to
// attach it.
func (e *Engine) bindPendingMedia(ctx context.Context, t *tctx) {
	if t.asset == nil || t.asset.ItemID != "" {
		return
	}
	if t.wctx.CurrentChecklistItemID == "" {
		t.reply(msgMediaNoItem)
		return
	}
	bound, err := e.media.Bind(ctx, t.q, t.asset.ID, t.wctx.CurrentChecklistItemID)
	if err != nil {
		e.logger.Warn("media bind failed", slog.String("media_id", t.asset.ID), slog.Any("error", err))
		t.reply(msgMediaNoItem)
		return
	}
	t.asset = &bound
}

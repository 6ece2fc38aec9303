package workflow

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/conversation"
	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/intent"
	"github.com/fieldwalk/fieldwalk/internal/media"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory fakes. The Querier argument is ignored; the fake tx runner passes nil.

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(q dbpkg.Querier) error) error {
	return fn(nil)
}

type fakeConversations struct {
	conv        conversation.Conversation
	saved       *conversation.WorkflowContext
	deactivated bool
	seen        map[string]bool
	outbound    []string
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		conv: conversation.Conversation{ID: "conv-1", UserID: "user-1", Active: true},
		seen: map[string]bool{},
	}
}

func (f *fakeConversations) Load(ctx context.Context, q dbpkg.Querier, userID string) (conversation.Conversation, error) {
	return f.conv, nil
}

func (f *fakeConversations) Save(ctx context.Context, q dbpkg.Querier, conversationID string, wctx conversation.WorkflowContext) error {
	f.saved = &wctx
	return nil
}

func (f *fakeConversations) Deactivate(ctx context.Context, q dbpkg.Querier, conversationID string) error {
	f.deactivated = true
	return nil
}

func (f *fakeConversations) SeenProviderMessage(ctx context.Context, q dbpkg.Querier, providerMessageID string) (bool, error) {
	return f.seen[providerMessageID], nil
}

func (f *fakeConversations) AppendInbound(ctx context.Context, q dbpkg.Querier, conversationID, providerMessageID, body, mediaID string) (bool, error) {
	if providerMessageID != "" && f.seen[providerMessageID] {
		return true, nil
	}
	if providerMessageID != "" {
		f.seen[providerMessageID] = true
	}
	return false, nil
}

func (f *fakeConversations) AppendOutbound(ctx context.Context, q dbpkg.Querier, conversationID, body string) error {
	f.outbound = append(f.outbound, body)
	return nil
}

type fakeUsers struct {
	user identity.User
}

func (f *fakeUsers) ResolveByPhone(ctx context.Context, q dbpkg.Querier, phone, displayName string) (identity.User, error) {
	return f.user, nil
}

type fakeOrders struct {
	orders map[string]*workorder.WorkOrder
}

func (f *fakeOrders) get(id string) (*workorder.WorkOrder, error) {
	wo, ok := f.orders[id]
	if !ok {
		return nil, workorder.ErrNotFound
	}
	return wo, nil
}

func (f *fakeOrders) Get(ctx context.Context, q dbpkg.Querier, workOrderID string) (workorder.WorkOrder, error) {
	wo, err := f.get(workOrderID)
	if err != nil {
		return workorder.WorkOrder{}, err
	}
	return *wo, nil
}

func (f *fakeOrders) GetByCode(ctx context.Context, q dbpkg.Querier, code int64) (workorder.WorkOrder, error) {
	for _, wo := range f.orders {
		if wo.Code == code {
			return *wo, nil
		}
	}
	return workorder.WorkOrder{}, workorder.ErrNotFound
}

func (f *fakeOrders) ListForInspector(ctx context.Context, q dbpkg.Querier, inspectorID string, day time.Time) ([]workorder.WorkOrder, error) {
	var orders []workorder.WorkOrder
	for _, wo := range f.orders {
		if wo.InspectorID == inspectorID && (wo.Status == workorder.StatusScheduled || wo.Status == workorder.StatusInProgress) {
			orders = append(orders, *wo)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].Code < orders[j].Code })
	return orders, nil
}

func (f *fakeOrders) MarkInProgress(ctx context.Context, q dbpkg.Querier, id string) error {
	wo, err := f.get(id)
	if err != nil {
		return err
	}
	wo.Status = workorder.StatusInProgress
	return nil
}

func (f *fakeOrders) MarkCompleted(ctx context.Context, q dbpkg.Querier, id string) error {
	wo, err := f.get(id)
	if err != nil {
		return err
	}
	wo.Status = workorder.StatusCompleted
	return nil
}

type fakeChecklists struct {
	instances map[string]*checklist.Instance // by work order id
	items     map[string][]*checklist.Item   // by instance id
}

func (f *fakeChecklists) EnsureInstance(ctx context.Context, q dbpkg.Querier, workOrderID, templateID string) (checklist.Instance, error) {
	if inst, ok := f.instances[workOrderID]; ok {
		return *inst, nil
	}
	inst := &checklist.Instance{
		ID:          "inst-" + workOrderID,
		WorkOrderID: workOrderID,
		TemplateID:  templateID,
		Status:      checklist.InstanceInProgress,
	}
	f.instances[workOrderID] = inst
	return *inst, nil
}

func (f *fakeChecklists) InstanceForWorkOrder(ctx context.Context, q dbpkg.Querier, workOrderID string) (checklist.Instance, error) {
	inst, ok := f.instances[workOrderID]
	if !ok {
		return checklist.Instance{}, checklist.ErrInstanceNotFound
	}
	return *inst, nil
}

func (f *fakeChecklists) Items(ctx context.Context, q dbpkg.Querier, instanceID string) ([]checklist.Item, error) {
	var items []checklist.Item
	for _, item := range f.items[instanceID] {
		items = append(items, *item)
	}
	return items, nil
}

func (f *fakeChecklists) ItemByPosition(ctx context.Context, q dbpkg.Querier, instanceID string, position int) (checklist.Item, error) {
	for _, item := range f.items[instanceID] {
		if item.Position == position {
			return *item, nil
		}
	}
	return checklist.Item{}, checklist.ErrItemNotFound
}

func (f *fakeChecklists) item(itemID string) (*checklist.Item, error) {
	for _, items := range f.items {
		for _, item := range items {
			if item.ID == itemID {
				return item, nil
			}
		}
	}
	return nil, checklist.ErrItemNotFound
}

func (f *fakeChecklists) GetItem(ctx context.Context, q dbpkg.Querier, itemID string) (checklist.Item, error) {
	item, err := f.item(itemID)
	if err != nil {
		return checklist.Item{}, err
	}
	return *item, nil
}

func (f *fakeChecklists) AddComment(ctx context.Context, q dbpkg.Querier, itemID, comment string) (checklist.Item, error) {
	item, err := f.item(itemID)
	if err != nil {
		return checklist.Item{}, err
	}
	if item.Comment == "" {
		item.Comment = comment
	} else {
		item.Comment += "\n" + comment
	}
	return *item, nil
}

func (f *fakeChecklists) CompleteItem(ctx context.Context, q dbpkg.Querier, itemID string) (checklist.Item, error) {
	item, err := f.item(itemID)
	if err != nil {
		return checklist.Item{}, err
	}
	item.Status = checklist.ItemDone
	return *item, nil
}

func (f *fakeChecklists) MarkIssue(ctx context.Context, q dbpkg.Querier, itemID, note string) (checklist.Item, error) {
	item, err := f.item(itemID)
	if err != nil {
		return checklist.Item{}, err
	}
	item.Status = checklist.ItemIssue
	if note != "" {
		item.Comment = note
	}
	return *item, nil
}

func (f *fakeChecklists) Pending(ctx context.Context, q dbpkg.Querier, instanceID string) ([]checklist.Item, error) {
	var pending []checklist.Item
	for _, item := range f.items[instanceID] {
		if !item.Addressed() {
			pending = append(pending, *item)
		}
	}
	return pending, nil
}

func (f *fakeChecklists) Complete(ctx context.Context, q dbpkg.Querier, instanceID string) (checklist.Instance, error) {
	pending, _ := f.Pending(ctx, q, instanceID)
	if len(pending) > 0 {
		return checklist.Instance{}, checklist.ErrItemsPending
	}
	for _, inst := range f.instances {
		if inst.ID == instanceID {
			inst.Status = checklist.InstanceCompleted
			return *inst, nil
		}
	}
	return checklist.Instance{}, checklist.ErrInstanceNotFound
}

type fakeMedia struct {
	nextID   int
	ingested []media.Asset
	bound    map[string]string // media id -> item id
}

func (f *fakeMedia) Ingest(ctx context.Context, q dbpkg.Querier, input media.IngestRequest) (media.Asset, error) {
	f.nextID++
	asset := media.Asset{
		ID:       fmt.Sprintf("media-%d", f.nextID),
		UserID:   input.UserID,
		MimeType: input.MimeType,
	}
	f.ingested = append(f.ingested, asset)
	return asset, nil
}

func (f *fakeMedia) Bind(ctx context.Context, q dbpkg.Querier, mediaID, itemID string) (media.Asset, error) {
	f.bound[mediaID] = itemID
	return media.Asset{ID: mediaID, ItemID: itemID}, nil
}

type fakeClassifier struct {
	intent intent.Intent
	err    error
	called bool
}

func (f *fakeClassifier) Classify(ctx context.Context, req intent.Request) (intent.Intent, error) {
	f.called = true
	return f.intent, f.err
}

type fakeAdapter struct {
	payload string
}

func (f *fakeAdapter) Type() channel.Type { return channel.TypeWhatsApp }
func (f *fakeAdapter) VerifyWebhook(mode, token, challenge string) (string, bool) {
	return "", false
}
func (f *fakeAdapter) VerifySignature(body []byte, signatureHeader string) bool { return true }
func (f *fakeAdapter) ParseInbound(body []byte) ([]channel.InboundMessage, error) {
	return nil, nil
}
func (f *fakeAdapter) Send(ctx context.Context, to, text string) error { return nil }
func (f *fakeAdapter) DownloadMedia(ctx context.Context, ref channel.MediaRef) (io.ReadCloser, channel.MediaRef, error) {
	return io.NopCloser(strings.NewReader(f.payload)), ref, nil
}

type harness struct {
	engine        *Engine
	conversations *fakeConversations
	orders        *fakeOrders
	checklists    *fakeChecklists
	media         *fakeMedia
	classifier    *fakeClassifier
}

func newHarness(t *testing.T, role string) *harness {
	t.Helper()
	registry := channel.NewRegistry()
	registry.MustRegister(&fakeAdapter{payload: "image-bytes"})

	h := &harness{
		conversations: newFakeConversations(),
		orders:        &fakeOrders{orders: map[string]*workorder.WorkOrder{}},
		checklists: &fakeChecklists{
			instances: map[string]*checklist.Instance{},
			items:     map[string][]*checklist.Item{},
		},
		media:      &fakeMedia{bound: map[string]string{}},
		classifier: &fakeClassifier{},
	}
	h.engine = NewEngine(
		nil,
		fakeTx{},
		h.conversations,
		&fakeUsers{user: identity.User{ID: "user-1", Phone: "15551234567", Role: role}},
		h.orders,
		h.checklists,
		h.media,
		registry,
		h.classifier,
		0.5,
	)
	return h
}

func (h *harness) addOrder(id string, code int64, inspectorID, status string) *workorder.WorkOrder {
	wo := &workorder.WorkOrder{
		ID: id, Code: code, Title: "Unit 4 walkthrough",
		InspectorID: inspectorID, TemplateID: "tpl-1", Status: status,
	}
	h.orders.orders[id] = wo
	return wo
}

func (h *harness) addChecklist(workOrderID string, names ...string) {
	instID := "inst-" + workOrderID
	h.checklists.instances[workOrderID] = &checklist.Instance{
		ID: instID, WorkOrderID: workOrderID, TemplateID: "tpl-1",
		Status: checklist.InstanceInProgress,
	}
	for i, name := range names {
		h.checklists.items[instID] = append(h.checklists.items[instID], &checklist.Item{
			ID: fmt.Sprintf("item-%s-%d", workOrderID, i+1), InstanceID: instID,
			Position: i + 1, Name: name, Status: checklist.ItemPending,
		})
	}
}

func textMessage(id, body string) channel.InboundMessage {
	return channel.InboundMessage{
		Channel:           channel.TypeWhatsApp,
		ProviderMessageID: id,
		From:              "15551234567",
		Text:              body,
	}
}

func TestRoleGateRejectsNonInspector(t *testing.T) {
	h := newHarness(t, identity.RoleCustomer)
	h.classifier.intent = intent.Intent{Name: intent.StartInspection, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "start #7"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, msgNotInspector, res.Replies[0].Text)
	assert.Empty(t, h.conversations.saved.CurrentWorkOrderID)
}

func TestViewJobsListsOpenOrders(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusScheduled)
	h.addOrder("wo-2", 8, "user-1", workorder.StatusInProgress)
	h.addOrder("wo-3", 9, "someone-else", workorder.StatusScheduled)
	h.classifier.intent = intent.Intent{Name: intent.ViewJobs, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "my jobs"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "#7")
	assert.Contains(t, res.Replies[0].Text, "#8 Unit 4 walkthrough (in progress)")
	assert.NotContains(t, res.Replies[0].Text, "#9")
}

func TestStartInspectionByCode(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusScheduled)
	h.addChecklist("wo-1", "Front door", "Kitchen sink", "Smoke alarm")
	h.classifier.intent = intent.Intent{
		Name: intent.StartInspection, Confidence: 0.95,
		Params: map[string]any{"work_order_code": float64(7)},
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "start #7"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "Inspection #7")
	assert.Contains(t, res.Replies[0].Text, "Front door")

	assert.Equal(t, workorder.StatusInProgress, h.orders.orders["wo-1"].Status)
	require.NotNil(t, h.conversations.saved)
	assert.Equal(t, "wo-1", h.conversations.saved.CurrentWorkOrderID)
	assert.Equal(t, "item-wo-1-1", h.conversations.saved.CurrentChecklistItemID)
	assert.Equal(t, intent.StartInspection, h.conversations.saved.LastIntent)
	assert.Equal(t, "m1", h.conversations.saved.LastMessageID)
}

func TestStartInspectionNotAssigned(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "someone-else", workorder.StatusScheduled)
	h.classifier.intent = intent.Intent{
		Name: intent.StartInspection, Confidence: 0.95,
		Params: map[string]any{"work_order_code": float64(7)},
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "start #7"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, msgNotYourOrder, res.Replies[0].Text)
	assert.Equal(t, workorder.StatusScheduled, h.orders.orders["wo-1"].Status)
	assert.Empty(t, h.conversations.saved.CurrentWorkOrderID)
}

func TestStartInspectionMissingParamAsksWhich(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{Name: intent.StartInspection, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "start"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, msgWhichOrder, res.Replies[0].Text)
}

func TestStartInspectionResumesAtFirstOpenItem(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door", "Kitchen sink", "Smoke alarm")
	h.checklists.items["inst-wo-1"][0].Status = checklist.ItemDone
	h.classifier.intent = intent.Intent{
		Name: intent.StartInspection, Confidence: 0.95,
		Params: map[string]any{"work_order_code": float64(7)},
	}

	_, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "start #7"))
	require.NoError(t, err)
	assert.Equal(t, "item-wo-1-2", h.conversations.saved.CurrentChecklistItemID)
}

func TestUpdateItemRequiresActiveOrder(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{
		Name: intent.UpdateItem, Confidence: 0.9,
		Params: map[string]any{"position": float64(2)},
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "item 2"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, msgNoActiveOrder, res.Replies[0].Text)
}

func TestItemFlow(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door", "Kitchen sink")
	h.conversations.conv.Context = conversation.WorkflowContext{
		CurrentWorkOrderID:     "wo-1",
		CurrentChecklistItemID: "item-wo-1-1",
	}

	// Comment on the current item.
	h.classifier.intent = intent.Intent{
		Name: intent.AddComment, Confidence: 0.9,
		Params: map[string]any{"comment": "hinge squeaks"},
	}
	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "note: hinge squeaks"))
	require.NoError(t, err)
	assert.Contains(t, res.Replies[0].Text, "hinge squeaks")
	item, _ := h.checklists.item("item-wo-1-1")
	assert.Equal(t, "hinge squeaks", item.Comment)

	// Complete it; the cursor advances to the next open item.
	h.conversations.conv.Context = *h.conversations.saved
	h.classifier.intent = intent.Intent{Name: intent.CompleteItem, Confidence: 0.9}
	res, err = h.engine.HandleMessage(context.Background(), textMessage("m2", "done"))
	require.NoError(t, err)
	assert.Contains(t, res.Replies[0].Text, "Item 1 done")
	assert.Contains(t, res.Replies[0].Text, "Kitchen sink")
	assert.Equal(t, "item-wo-1-2", h.conversations.saved.CurrentChecklistItemID)

	// Complete the last one; cursor clears and the engine suggests finishing.
	h.conversations.conv.Context = *h.conversations.saved
	res, err = h.engine.HandleMessage(context.Background(), textMessage("m3", "done"))
	require.NoError(t, err)
	assert.Contains(t, res.Replies[0].Text, "last one")
	assert.Empty(t, h.conversations.saved.CurrentChecklistItemID)
}

func TestIssueFoundEmitsTrigger(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door")
	h.conversations.conv.Context = conversation.WorkflowContext{
		CurrentWorkOrderID:     "wo-1",
		CurrentChecklistItemID: "item-wo-1-1",
	}
	h.classifier.intent = intent.Intent{
		Name: intent.IssueFound, Confidence: 0.9,
		Params: map[string]any{"note": "broken lock"},
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "problem: broken lock"))
	require.NoError(t, err)
	require.Len(t, res.Triggers, 1)
	assert.Equal(t, TriggerNotifyAdmin, res.Triggers[0].Kind)
	assert.Equal(t, "wo-1", res.Triggers[0].WorkOrderID)
	assert.Contains(t, res.Triggers[0].Note, "broken lock")

	item, _ := h.checklists.item("item-wo-1-1")
	assert.Equal(t, checklist.ItemIssue, item.Status)
}

func TestCompleteInspectionBlockedByPendingItems(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door", "Kitchen sink")
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}
	h.classifier.intent = intent.Intent{Name: intent.CompleteInspection, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "finish"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "Front door")
	assert.Contains(t, res.Replies[0].Text, "Kitchen sink")
	assert.Empty(t, res.Triggers)
	assert.False(t, h.conversations.deactivated)
}

func TestCompleteInspectionClosesConversation(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door")
	h.checklists.items["inst-wo-1"][0].Status = checklist.ItemDone
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}
	h.classifier.intent = intent.Intent{Name: intent.CompleteInspection, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "finish"))
	require.NoError(t, err)
	require.Len(t, res.Triggers, 2)
	assert.Equal(t, TriggerGenerateReport, res.Triggers[0].Kind)
	assert.Equal(t, "wo-1", res.Triggers[0].WorkOrderID)
	assert.Equal(t, TriggerNotifyAdmin, res.Triggers[1].Kind)
	assert.True(t, h.conversations.deactivated)
	assert.Nil(t, h.conversations.saved)
	assert.Equal(t, workorder.StatusCompleted, h.orders.orders["wo-1"].Status)
}

func TestCompleteInspectionEmitsReportTriggerOnce(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door")
	h.checklists.items["inst-wo-1"][0].Status = checklist.ItemDone
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}
	h.classifier.intent = intent.Intent{Name: intent.CompleteInspection, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "finish"))
	require.NoError(t, err)
	reports := 0
	for _, trigger := range res.Triggers {
		if trigger.Kind == TriggerGenerateReport {
			reports++
		}
	}
	assert.Equal(t, 1, reports)

	// A second completion attempt on the already-completed instance is a
	// no-op: no new report trigger.
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}
	h.conversations.conv.Active = true
	res, err = h.engine.HandleMessage(context.Background(), textMessage("m2", "finish"))
	require.NoError(t, err)
	assert.Empty(t, res.Triggers)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "already completed")
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.conversations.seen["m1"] = true
	h.classifier.intent = intent.Intent{Name: intent.ViewJobs, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "my jobs"))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.Replies)
	assert.False(t, h.classifier.called)
	assert.Nil(t, h.conversations.saved)
}

func TestClassifierFailureDegradesToHelp(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.err = fmt.Errorf("connection refused")

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "gibberish"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "my jobs")
	assert.Equal(t, intent.Unknown, h.conversations.saved.LastIntent)
}

func TestLowConfidenceDegradesToHelp(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{Name: intent.CompleteInspection, Confidence: 0.2}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "ok fine"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Contains(t, res.Replies[0].Text, "my jobs")
	assert.False(t, h.conversations.deactivated)
}

func TestDirectReplyReplacesHelpFallback(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{
		Name: intent.Unknown, Confidence: 0.9,
		DirectReply: "I can only help with inspections here.",
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "what's the weather"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, "I can only help with inspections here.", res.Replies[0].Text)
}

func TestDirectReplySurvivesLowConfidence(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{
		Name: intent.CompleteInspection, Confidence: 0.2,
		DirectReply: "Did you mean to finish the inspection?",
	}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "ok fine"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	assert.Equal(t, "Did you mean to finish the inspection?", res.Replies[0].Text)
	assert.False(t, h.conversations.deactivated)
}

func TestClassifierCannotSteerCursor(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door")
	h.conversations.conv.Context = conversation.WorkflowContext{
		CurrentWorkOrderID:     "wo-1",
		CurrentChecklistItemID: "item-wo-1-1",
	}
	h.classifier.intent = intent.Intent{
		Name: intent.Help, Confidence: 0.9,
		ContextDeltas: map[string]any{
			"currentWorkOrderId":     "wo-999",
			"currentChecklistItemId": "item-x",
			"mood":                   "cheerful",
		},
	}

	_, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "help"))
	require.NoError(t, err)
	require.NotNil(t, h.conversations.saved)
	assert.Equal(t, "wo-1", h.conversations.saved.CurrentWorkOrderID)
	assert.Equal(t, "item-wo-1-1", h.conversations.saved.CurrentChecklistItemID)
}

func TestCancelClosesConversation(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}
	h.classifier.intent = intent.Intent{Name: intent.Cancel, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "cancel"))
	require.NoError(t, err)
	assert.True(t, h.conversations.deactivated)
	assert.Equal(t, msgCancelled, res.Replies[0].Text)
}

func TestMediaBindsToCurrentItem(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.addChecklist("wo-1", "Front door")
	h.conversations.conv.Context = conversation.WorkflowContext{
		CurrentWorkOrderID:     "wo-1",
		CurrentChecklistItemID: "item-wo-1-1",
	}

	msg := textMessage("m1", "")
	msg.Media = &channel.MediaRef{ProviderID: "prov-media-1", MimeType: "image/jpeg"}

	res, err := h.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, h.media.ingested, 1)
	assert.Equal(t, "item-wo-1-1", h.media.bound["media-1"])
	assert.False(t, h.classifier.called, "bare media message should not hit the classifier")
	require.NotEmpty(t, res.Replies)
	assert.Contains(t, res.Replies[0].Text, "Front door")
}

func TestMediaWithoutCurrentItemStaysUnbound(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.addOrder("wo-1", 7, "user-1", workorder.StatusInProgress)
	h.conversations.conv.Context = conversation.WorkflowContext{CurrentWorkOrderID: "wo-1"}

	msg := textMessage("m1", "")
	msg.Media = &channel.MediaRef{ProviderID: "prov-media-1", MimeType: "image/jpeg"}

	res, err := h.engine.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, h.media.ingested, 1)
	assert.Empty(t, h.media.bound)
	require.NotEmpty(t, res.Replies)
	assert.Equal(t, msgMediaNoItem, res.Replies[len(res.Replies)-1].Text)
}

func TestOutboundRepliesAreLogged(t *testing.T) {
	h := newHarness(t, identity.RoleInspector)
	h.classifier.intent = intent.Intent{Name: intent.Help, Confidence: 0.9}

	res, err := h.engine.HandleMessage(context.Background(), textMessage("m1", "help"))
	require.NoError(t, err)
	require.Len(t, res.Replies, 1)
	require.Len(t, h.conversations.outbound, 1)
	assert.Equal(t, res.Replies[0].Text, h.conversations.outbound[0])
}

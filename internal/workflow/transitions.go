package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/identity"
	"github.com/fieldwalk/fieldwalk/internal/intent"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

// transition declares the preconditions and effect of one intent. The table
// below is the single place intent routing lives; apply enforces the gates so
// the handlers only deal with their own semantics.
type transition struct {
	inspectorOnly bool
	needsOrder    bool
	needsItem     bool
	run           func(e *Engine, ctx context.Context, t *tctx, in intent.Intent) error
}

var transitions = map[string]transition{
	intent.ViewJobs:           {inspectorOnly: true, run: (*Engine).viewJobs},
	intent.StartInspection:    {inspectorOnly: true, run: (*Engine).startInspection},
	intent.UpdateItem:         {inspectorOnly: true, needsOrder: true, run: (*Engine).updateItem},
	intent.AddComment:         {inspectorOnly: true, needsOrder: true, needsItem: true, run: (*Engine).addComment},
	intent.CompleteItem:       {inspectorOnly: true, needsOrder: true, needsItem: true, run: (*Engine).completeItem},
	intent.IssueFound:         {inspectorOnly: true, needsOrder: true, needsItem: true, run: (*Engine).issueFound},
	intent.AddMedia:           {inspectorOnly: true, needsOrder: true, run: (*Engine).addMedia},
	intent.CompleteInspection: {inspectorOnly: true, needsOrder: true, run: (*Engine).completeInspection},
	intent.Cancel:             {run: (*Engine).cancel},
	intent.Help:               {run: (*Engine).help},
	intent.Unknown:            {run: (*Engine).unknown},
}

// apply routes a classified intent through the transition table.
func (e *Engine) apply(ctx context.Context, t *tctx, in intent.Intent) error {
	tr, ok := transitions[in.Name]
	if !ok {
		tr = transitions[intent.Unknown]
	}

	// The classifier's own answer goes out ahead of whatever the transition says.
	if in.DirectReply != "" {
		t.reply(in.DirectReply)
	}

	if tr.inspectorOnly && t.user.Role != identity.RoleInspector {
		t.reply(msgNotInspector)
		return nil
	}
	if tr.needsOrder && t.wctx.CurrentWorkOrderID == "" {
		t.reply(msgNoActiveOrder)
		return nil
	}
	if tr.needsItem && t.wctx.CurrentChecklistItemID == "" {
		t.reply(msgNoCurrentItem)
		return nil
	}
	return tr.run(e, ctx, t, in)
}

func (e *Engine) viewJobs(ctx context.Context, t *tctx, in intent.Intent) error {
	orders, err := e.orders.ListForInspector(ctx, t.q, t.user.ID, e.now())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	t.reply(replyJobsList(orders))
	return nil
}

// resolveOrderParam finds the work order named by the intent, by short code or
// by id. ok=false means a user-facing reply was already queued.
func (e *Engine) resolveOrderParam(ctx context.Context, t *tctx, in intent.Intent) (workorder.WorkOrder, bool, error) {
	if code, found := in.ParamInt("work_order_code"); found {
		wo, err := e.orders.GetByCode(ctx, t.q, int64(code))
		if err != nil {
			if errors.Is(err, workorder.ErrNotFound) {
				t.reply(msgUnknownOrder)
				return workorder.WorkOrder{}, false, nil
			}
			return workorder.WorkOrder{}, false, err
		}
		return wo, true, nil
	}
	if id := in.ParamString("work_order_id"); id != "" {
		wo, err := e.orders.Get(ctx, t.q, id)
		if err != nil {
			if errors.Is(err, workorder.ErrNotFound) {
				t.reply(msgUnknownOrder)
				return workorder.WorkOrder{}, false, nil
			}
			return workorder.WorkOrder{}, false, err
		}
		return wo, true, nil
	}
	t.reply(msgWhichOrder)
	return workorder.WorkOrder{}, false, nil
}

func (e *Engine) startInspection(ctx context.Context, t *tctx, in intent.Intent) error {
	wo, ok, err := e.resolveOrderParam(ctx, t, in)
	if err != nil || !ok {
		return err
	}
	if wo.InspectorID != t.user.ID {
		t.reply(msgNotYourOrder)
		return nil
	}
	switch wo.Status {
	case workorder.StatusScheduled, workorder.StatusInProgress:
	default:
		t.reply(msgOrderNotOpen)
		return nil
	}

	if err := e.orders.MarkInProgress(ctx, t.q, wo.ID); err != nil {
		return fmt.Errorf("start work order: %w", err)
	}
	inst, err := e.checklists.EnsureInstance(ctx, t.q, wo.ID, wo.TemplateID)
	if err != nil {
		return fmt.Errorf("ensure checklist: %w", err)
	}
	items, err := e.checklists.Items(ctx, t.q, inst.ID)
	if err != nil {
		return err
	}

	// Resuming picks up at the first unaddressed item.
	t.wctx.CurrentWorkOrderID = wo.ID
	t.wctx.CurrentChecklistItemID = ""
	for _, item := range items {
		if !item.Addressed() {
			t.wctx.CurrentChecklistItemID = item.ID
			break
		}
	}

	e.logger.Info("inspection started",
		slog.String("user_id", t.user.ID),
		slog.String("work_order_id", wo.ID))
	t.reply(replyChecklist(wo, items, t.wctx.CurrentChecklistItemID))
	return nil
}

func (e *Engine) updateItem(ctx context.Context, t *tctx, in intent.Intent) error {
	position, found := in.ParamInt("position")
	if !found {
		position, found = in.ParamInt("item")
	}
	if !found {
		t.reply(msgWhichItem)
		return nil
	}

	inst, err := e.checklists.InstanceForWorkOrder(ctx, t.q, t.wctx.CurrentWorkOrderID)
	if err != nil {
		return err
	}
	item, err := e.checklists.ItemByPosition(ctx, t.q, inst.ID, position)
	if err != nil {
		if errors.Is(err, checklist.ErrItemNotFound) {
			t.reply(msgUnknownItem)
			return nil
		}
		return err
	}

	t.wctx.CurrentChecklistItemID = item.ID
	t.reply(replyItemFocused(item))
	return nil
}

func (e *Engine) addComment(ctx context.Context, t *tctx, in intent.Intent) error {
	comment := in.ParamString("comment")
	if comment == "" {
		comment = in.ParamString("text")
	}
	if comment == "" {
		comment = t.msg.Text
	}
	if comment == "" {
		t.reply(msgCommentMissing)
		return nil
	}

	item, err := e.checklists.AddComment(ctx, t.q, t.wctx.CurrentChecklistItemID, comment)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	t.reply(fmt.Sprintf("Noted on item %d: %s", item.Position, comment))
	return nil
}

func (e *Engine) completeItem(ctx context.Context, t *tctx, in intent.Intent) error {
	item, err := e.checklists.CompleteItem(ctx, t.q, t.wctx.CurrentChecklistItemID)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}

	reply := fmt.Sprintf("Item %d done.", item.Position)

	// Advance the cursor to the next open item so the inspector can keep going
	// without re-selecting.
	pending, err := e.checklists.Pending(ctx, t.q, item.InstanceID)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		t.wctx.CurrentChecklistItemID = ""
		reply += " That was the last one, send \"finish\" to complete the inspection."
	} else {
		next := pending[0]
		t.wctx.CurrentChecklistItemID = next.ID
		reply += fmt.Sprintf(" Next up: %d. %s", next.Position, next.Name)
	}
	t.reply(reply)
	return nil
}

func (e *Engine) issueFound(ctx context.Context, t *tctx, in intent.Intent) error {
	note := in.ParamString("note")
	if note == "" {
		note = in.ParamString("text")
	}
	if note == "" {
		note = t.msg.Text
	}

	item, err := e.checklists.MarkIssue(ctx, t.q, t.wctx.CurrentChecklistItemID, note)
	if err != nil {
		return fmt.Errorf("mark issue: %w", err)
	}
	t.trigger(Trigger{
		Kind:        TriggerNotifyAdmin,
		WorkOrderID: t.wctx.CurrentWorkOrderID,
		ItemID:      item.ID,
		Note:        fmt.Sprintf("Issue reported: %s", note),
	})
	t.reply(fmt.Sprintf("Issue flagged on item %d. Add photos or notes if you have them.", item.Position))
	return nil
}

func (e *Engine) addMedia(ctx context.Context, t *tctx, in intent.Intent) error {
	if t.asset == nil {
		t.reply(msgMediaMissing)
		return nil
	}
	if t.wctx.CurrentChecklistItemID == "" {
		// bindPendingMedia queues the explanation.
		return nil
	}
	item, err := e.checklists.GetItem(ctx, t.q, t.wctx.CurrentChecklistItemID)
	if err != nil {
		return err
	}
	// Binding itself happens in bindPendingMedia after the transition.
	t.reply(fmt.Sprintf("Got it, attaching to item %d. %s", item.Position, item.Name))
	return nil
}

func (e *Engine) completeInspection(ctx context.Context, t *tctx, in intent.Intent) error {
	inst, err := e.checklists.InstanceForWorkOrder(ctx, t.q, t.wctx.CurrentWorkOrderID)
	if err != nil {
		return err
	}
	if inst.Status == checklist.InstanceCompleted {
		t.reply(msgAlreadyComplete)
		return nil
	}

	if _, err := e.checklists.Complete(ctx, t.q, inst.ID); err != nil {
		if errors.Is(err, checklist.ErrItemsPending) {
			pending, perr := e.checklists.Pending(ctx, t.q, inst.ID)
			if perr != nil {
				return perr
			}
			t.reply(replyPendingItems(pending))
			return nil
		}
		return fmt.Errorf("complete checklist: %w", err)
	}
	if err := e.orders.MarkCompleted(ctx, t.q, t.wctx.CurrentWorkOrderID); err != nil {
		return fmt.Errorf("complete work order: %w", err)
	}

	wo, err := e.orders.Get(ctx, t.q, t.wctx.CurrentWorkOrderID)
	if err != nil {
		return err
	}
	// Completion emits generate_report exactly once: re-running the intent on
	// a completed instance takes the msgAlreadyComplete path above instead.
	t.trigger(Trigger{
		Kind:        TriggerGenerateReport,
		WorkOrderID: wo.ID,
	})
	t.trigger(Trigger{
		Kind:        TriggerNotifyAdmin,
		WorkOrderID: wo.ID,
		Note:        fmt.Sprintf("Inspection #%d completed", wo.Code),
	})
	t.ended = true
	e.logger.Info("inspection completed",
		slog.String("user_id", t.user.ID),
		slog.String("work_order_id", wo.ID))
	t.reply(fmt.Sprintf("Inspection #%d completed. Nice work!", wo.Code))
	return nil
}

func (e *Engine) cancel(ctx context.Context, t *tctx, in intent.Intent) error {
	t.ended = true
	t.reply(msgCancelled)
	return nil
}

func (e *Engine) help(ctx context.Context, t *tctx, in intent.Intent) error {
	t.reply(replyHelp(t.user.Role))
	return nil
}

// unknown falls back to the help text unless the classifier already answered
// the user directly.
func (e *Engine) unknown(ctx context.Context, t *tctx, in intent.Intent) error {
	if in.DirectReply != "" {
		return nil
	}
	t.reply(replyHelp(t.user.Role))
	return nil
}

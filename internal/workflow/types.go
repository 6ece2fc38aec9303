// Package workflow drives the chat-based inspection state machine: it turns a
// classified inbound message into checklist mutations, replies, and
// notification triggers, all inside one per-user transaction.
package workflow

// TriggerKind names a workflow event other components react to.
type TriggerKind string

// Trigger kinds emitted by transitions. generate_report is emitted exactly
// once per inspection, when it completes; the notify kinds carry text-worthy
// events to admins or a specific customer number.
const (
	TriggerGenerateReport TriggerKind = "generate_report"
	TriggerNotifyAdmin    TriggerKind = "notify_admin"
	TriggerNotifyCustomer TriggerKind = "notify_customer"
)

// Reply is an outbound message produced by a transition.
type Reply struct {
	To   string
	Text string
}

// Trigger is a workflow event handed to the notification dispatcher after the
// transaction commits. To is only set for notify_customer.
type Trigger struct {
	Kind        TriggerKind
	UserID      string
	WorkOrderID string
	ItemID      string
	Note        string
	To          string
}

// Result is the outcome of handling one inbound message. Duplicate marks a
// replayed provider delivery; it carries no replies and no state changes.
type Result struct {
	Duplicate bool
	Replies   []Reply
	Triggers  []Trigger
}

// Package checklist manages checklist templates and the per-work-order
// checklist instances an inspector walks through.
package checklist

import "time"

// Instance statuses.
const (
	InstanceInProgress = "in_progress"
	InstanceCompleted  = "completed"
)

// Item statuses. An item is addressed once it is done or flagged as an issue;
// pending items block completing the inspection.
const (
	ItemPending = "pending"
	ItemDone    = "done"
	ItemIssue   = "issue"
)

// Template is a reusable checklist definition.
type Template struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	Items     []TemplateItem `json:"items,omitempty"`
}

// TemplateItem is a single entry of a checklist template.
type TemplateItem struct {
	ID          string `json:"id"`
	TemplateID  string `json:"templateId"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Instance is a checklist materialized for one work order.
type Instance struct {
	ID          string     `json:"id"`
	WorkOrderID string     `json:"workOrderId"`
	TemplateID  string     `json:"templateId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Item is a single entry of a checklist instance.
type Item struct {
	ID             string    `json:"id"`
	InstanceID     string    `json:"instanceId"`
	TemplateItemID string    `json:"templateItemId"`
	Position       int       `json:"position"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Comment        string    `json:"comment"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Addressed reports whether the item no longer blocks completing the inspection.
func (i Item) Addressed() bool {
	return i.Status == ItemDone || i.Status == ItemIssue
}

// TemplateItemRequest holds one item of a template create request.
type TemplateItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Package workorder manages inspection work orders and their scheduling status.
package workorder

import "time"

// Work order statuses.
const (
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// WorkOrder is a scheduled inspection job at a property, assigned to an inspector.
type WorkOrder struct {
	ID            string    `json:"id"`
	Code          int64     `json:"code"`
	Title         string    `json:"title"`
	PropertyRef   string    `json:"propertyRef"`
	InspectorID   string    `json:"inspectorId"`
	TemplateID    string    `json:"templateId"`
	ScheduledDate time.Time `json:"scheduledDate"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateRequest holds the fields for creating a work order.
type CreateRequest struct {
	Title         string `json:"title"`
	PropertyRef   string `json:"propertyRef"`
	InspectorID   string `json:"inspectorId"`
	TemplateID    string `json:"templateId"`
	ScheduledDate string `json:"scheduledDate"` // YYYY-MM-DD
}

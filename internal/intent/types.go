// Package intent classifies inbound message text into workflow intents.
package intent

import (
	"context"
	"strconv"
	"strings"
)

// Intent names produced by the classifier.
const (
	ViewJobs           = "view_jobs"
	StartInspection    = "start_inspection"
	UpdateItem         = "update_item"
	AddComment         = "add_comment"
	CompleteItem       = "complete_item"
	IssueFound         = "issue_found"
	AddMedia           = "add_media"
	CompleteInspection = "complete_inspection"
	Cancel             = "cancel"
	Help               = "help"
	Unknown            = "unknown"
)

// Intent is a classified message: the intent name, the classifier's
// confidence in [0,1], and any extracted parameters. The classifier may also
// send a conversational answer of its own (DirectReply) and propose context
// changes (ContextDeltas); the workflow engine screens the deltas and never
// copies fields it owns.
type Intent struct {
	Name          string         `json:"intent"`
	Confidence    float64        `json:"confidence"`
	Params        map[string]any `json:"params,omitempty"`
	DirectReply   string         `json:"directReply,omitempty"`
	ContextDeltas map[string]any `json:"contextDeltas,omitempty"`
}

// Request is the classification input: the message text plus the workflow
// snapshot the classifier may condition on.
type Request struct {
	Text               string `json:"text"`
	Role               string `json:"role,omitempty"`
	CurrentWorkOrderID string `json:"currentWorkOrderId,omitempty"`
	CurrentItemID      string `json:"currentItemId,omitempty"`
	LastIntent         string `json:"lastIntent,omitempty"`
}

// Classifier classifies a message into an Intent.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Intent, error)
}

// ParamString returns the named parameter as a trimmed string.
func (i Intent) ParamString(key string) string {
	raw, ok := i.Params[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// ParamInt returns the named parameter as an int, accepting JSON numbers and
// numeric strings. ok is false when missing or not numeric.
func (i Intent) ParamInt(key string) (int, bool) {
	raw, exists := i.Params[key]
	if !exists || raw == nil {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

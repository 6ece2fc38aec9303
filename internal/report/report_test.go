package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/media"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

func TestBuildReport(t *testing.T) {
	scheduled := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	completed := scheduled.Add(9 * time.Hour)
	wo := workorder.WorkOrder{
		ID: "wo-1", Code: 12, Title: "Unit 4 walkthrough", PropertyRef: "12 Main St",
		InspectorID: "user-1", ScheduledDate: scheduled,
	}
	inst := checklist.Instance{ID: "inst-1", WorkOrderID: "wo-1", CompletedAt: &completed}
	items := []checklist.Item{
		{ID: "i1", Position: 1, Name: "Front door", Status: checklist.ItemDone},
		{ID: "i2", Position: 2, Name: "Kitchen sink", Status: checklist.ItemIssue, Comment: "drips when open"},
	}
	mediaByItem := map[string][]media.Asset{
		"i2": {{StorageKey: "ab/abcdef.jpg"}},
	}

	rep := build(wo, inst, items, mediaByItem, completed.Add(time.Minute))

	assert.Equal(t, int64(12), rep.Code)
	assert.Equal(t, "2026-09-01", rep.ScheduledDate)
	assert.Equal(t, &completed, rep.CompletedAt)
	assert.Equal(t, 1, rep.IssueCount)
	assert.Len(t, rep.Items, 2)
	assert.Empty(t, rep.Items[0].Media)
	assert.Equal(t, []string{"ab/abcdef.jpg"}, rep.Items[1].Media)
	assert.Equal(t, "drips when open", rep.Items[1].Comment)
}

func TestReportKey(t *testing.T) {
	assert.Equal(t, "reports/wo-1.json", ReportKey("wo-1"))
}

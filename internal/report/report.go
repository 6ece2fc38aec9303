// Package report renders a completed inspection into a stored JSON report.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/media"
	"github.com/fieldwalk/fieldwalk/internal/storage"
	"github.com/fieldwalk/fieldwalk/internal/workflow"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

// Report is the rendered inspection summary.
type Report struct {
	WorkOrderID   string       `json:"workOrderId"`
	Code          int64        `json:"code"`
	Title         string       `json:"title"`
	PropertyRef   string       `json:"propertyRef,omitempty"`
	InspectorID   string       `json:"inspectorId"`
	ScheduledDate string       `json:"scheduledDate"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
	GeneratedAt   time.Time    `json:"generatedAt"`
	Items         []ReportItem `json:"items"`
	IssueCount    int          `json:"issueCount"`
}

// ReportItem is one checklist entry with its findings and evidence keys.
type ReportItem struct {
	Position int      `json:"position"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Comment  string   `json:"comment,omitempty"`
	Media    []string `json:"media,omitempty"`
}

// Generator builds and stores inspection reports. It implements
// dispatch.TriggerHandler for the generate_report trigger.
type Generator struct {
	pool       *pgxpool.Pool
	orders     *workorder.Service
	checklists *checklist.Service
	media      *media.Service
	store      storage.Provider
	logger     *slog.Logger
	now        func() time.Time
}

// NewGenerator creates a report generator writing to the given store.
func NewGenerator(log *slog.Logger, pool *pgxpool.Pool, orders *workorder.Service,
	checklists *checklist.Service, mediaService *media.Service, store storage.Provider,
) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		pool:       pool,
		orders:     orders,
		checklists: checklists,
		media:      mediaService,
		store:      store,
		logger:     log.With(slog.String("service", "report")),
		now:        time.Now,
	}
}

// HandleTrigger generates the report for a generate_report trigger. Other
// trigger kinds are ignored.
func (g *Generator) HandleTrigger(ctx context.Context, trigger workflow.Trigger) error {
	if trigger.Kind != workflow.TriggerGenerateReport {
		return nil
	}
	_, err := g.Generate(ctx, trigger.WorkOrderID)
	return err
}

// Generate renders the work order's checklist into a JSON report and stores it
// under reports/<work order id>.json. Regenerating overwrites the previous one.
func (g *Generator) Generate(ctx context.Context, workOrderID string) (Report, error) {
	wo, err := g.orders.Get(ctx, g.pool, workOrderID)
	if err != nil {
		return Report{}, fmt.Errorf("load work order: %w", err)
	}
	inst, err := g.checklists.InstanceForWorkOrder(ctx, g.pool, wo.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load checklist: %w", err)
	}
	items, err := g.checklists.Items(ctx, g.pool, inst.ID)
	if err != nil {
		return Report{}, fmt.Errorf("load items: %w", err)
	}

	mediaByItem := map[string][]media.Asset{}
	for _, item := range items {
		assets, err := g.media.ForItem(ctx, g.pool, item.ID)
		if err != nil {
			return Report{}, fmt.Errorf("load item media: %w", err)
		}
		mediaByItem[item.ID] = assets
	}

	rep := build(wo, inst, items, mediaByItem, g.now())

	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return Report{}, fmt.Errorf("encode report: %w", err)
	}
	key := ReportKey(wo.ID)
	if err := g.store.Put(ctx, key, bytes.NewReader(raw)); err != nil {
		return Report{}, fmt.Errorf("store report: %w", err)
	}

	g.logger.Info("report generated",
		slog.String("work_order_id", wo.ID),
		slog.String("key", key),
		slog.Int("issues", rep.IssueCount))
	return rep, nil
}

// ReportKey returns the storage key of a work order's report.
func ReportKey(workOrderID string) string {
	return "reports/" + workOrderID + ".json"
}

func build(wo workorder.WorkOrder, inst checklist.Instance, items []checklist.Item,
	mediaByItem map[string][]media.Asset, generatedAt time.Time,
) Report {
	rep := Report{
		WorkOrderID:   wo.ID,
		Code:          wo.Code,
		Title:         wo.Title,
		PropertyRef:   wo.PropertyRef,
		InspectorID:   wo.InspectorID,
		ScheduledDate: wo.ScheduledDate.Format("2006-01-02"),
		CompletedAt:   inst.CompletedAt,
		GeneratedAt:   generatedAt,
	}
	for _, item := range items {
		ri := ReportItem{
			Position: item.Position,
			Name:     item.Name,
			Status:   item.Status,
			Comment:  item.Comment,
		}
		for _, asset := range mediaByItem[item.ID] {
			ri.Media = append(ri.Media, asset.StorageKey)
		}
		if item.Status == checklist.ItemIssue {
			rep.IssueCount++
		}
		rep.Items = append(rep.Items, ri)
	}
	return rep
}

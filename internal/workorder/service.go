package workorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
)

var (
	ErrNotFound      = errors.New("work order not found")
	ErrNotAssigned   = errors.New("work order not assigned to user")
	ErrBadTransition = errors.New("invalid work order status transition")
)

// Service manages work orders.
type Service struct {
	logger *slog.Logger
}

// NewService creates a work order service.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "workorder")),
	}
}

const workOrderColumns = `id, code, title, property_ref, inspector_id, template_id, scheduled_date, status, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var (
		id          pgtype.UUID
		inspectorID pgtype.UUID
		templateID  pgtype.UUID
		scheduled   pgtype.Date
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
		wo          WorkOrder
	)
	err := row.Scan(&id, &wo.Code, &wo.Title, &wo.PropertyRef, &inspectorID, &templateID,
		&scheduled, &wo.Status, &createdAt, &updatedAt)
	if err != nil {
		return WorkOrder{}, err
	}
	wo.ID = dbpkg.UUIDToString(id)
	wo.InspectorID = dbpkg.UUIDToString(inspectorID)
	wo.TemplateID = dbpkg.UUIDToString(templateID)
	if scheduled.Valid {
		wo.ScheduledDate = scheduled.Time
	}
	wo.CreatedAt = dbpkg.TimeFromPg(createdAt)
	wo.UpdatedAt = dbpkg.TimeFromPg(updatedAt)
	return wo, nil
}

// Create creates a work order in status scheduled.
func (s *Service) Create(ctx context.Context, q dbpkg.Querier, req CreateRequest) (WorkOrder, error) {
	if strings.TrimSpace(req.Title) == "" {
		return WorkOrder{}, fmt.Errorf("title is required")
	}
	pgTemplate, err := dbpkg.ParseUUID(req.TemplateID)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("invalid template id: %w", err)
	}
	scheduled, err := time.Parse("2006-01-02", strings.TrimSpace(req.ScheduledDate))
	if err != nil {
		return WorkOrder{}, fmt.Errorf("invalid scheduled date: %w", err)
	}

	pgInspector := pgtype.UUID{}
	if strings.TrimSpace(req.InspectorID) != "" {
		pgInspector, err = dbpkg.ParseUUID(req.InspectorID)
		if err != nil {
			return WorkOrder{}, fmt.Errorf("invalid inspector id: %w", err)
		}
	}

	row := q.QueryRow(ctx,
		`INSERT INTO work_orders (title, property_ref, inspector_id, template_id, scheduled_date)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+workOrderColumns,
		strings.TrimSpace(req.Title), strings.TrimSpace(req.PropertyRef), pgInspector, pgTemplate,
		pgtype.Date{Time: scheduled, Valid: true},
	)
	wo, err := scanWorkOrder(row)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("create work order: %w", err)
	}
	s.logger.Info("work order created", slog.String("work_order_id", wo.ID), slog.Int64("code", wo.Code))
	return wo, nil
}

// Get returns a work order by ID.
func (s *Service) Get(ctx context.Context, q dbpkg.Querier, workOrderID string) (WorkOrder, error) {
	pgID, err := dbpkg.ParseUUID(workOrderID)
	if err != nil {
		return WorkOrder{}, ErrNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, pgID)
	wo, err := scanWorkOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, fmt.Errorf("load work order: %w", err)
	}
	return wo, nil
}

// GetByCode returns a work order by its short numeric code.
func (s *Service) GetByCode(ctx context.Context, q dbpkg.Querier, code int64) (WorkOrder, error) {
	row := q.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE code = $1`, code)
	wo, err := scanWorkOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, fmt.Errorf("load work order by code: %w", err)
	}
	return wo, nil
}

// ListForInspector returns the inspector's open work orders for a given day,
// ordered by code. Completed and cancelled orders are excluded.
func (s *Service) ListForInspector(ctx context.Context, q dbpkg.Querier, inspectorID string, day time.Time) ([]WorkOrder, error) {
	pgID, err := dbpkg.ParseUUID(inspectorID)
	if err != nil {
		return nil, fmt.Errorf("invalid inspector id: %w", err)
	}
	rows, err := q.Query(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders
		 WHERE inspector_id = $1 AND scheduled_date = $2 AND status IN ($3, $4)
		 ORDER BY code`,
		pgID, pgtype.Date{Time: day, Valid: true}, StatusScheduled, StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	defer rows.Close()

	var orders []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// List returns all work orders ordered by code descending.
func (s *Service) List(ctx context.Context, q dbpkg.Querier) ([]WorkOrder, error) {
	rows, err := q.Query(ctx, `SELECT `+workOrderColumns+` FROM work_orders ORDER BY code DESC`)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	defer rows.Close()

	var orders []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, wo)
	}
	return orders, rows.Err()
}

// MarkInProgress moves a work order from scheduled to in_progress. Calling it
// on an order that is already in_progress is a no-op, so a resumed inspection
// does not fail.
func (s *Service) MarkInProgress(ctx context.Context, q dbpkg.Querier, workOrderID string) error {
	return s.transition(ctx, q, workOrderID, StatusInProgress, []string{StatusScheduled, StatusInProgress})
}

// MarkCompleted moves a work order from in_progress to completed.
func (s *Service) MarkCompleted(ctx context.Context, q dbpkg.Querier, workOrderID string) error {
	return s.transition(ctx, q, workOrderID, StatusCompleted, []string{StatusInProgress})
}

func (s *Service) transition(ctx context.Context, q dbpkg.Querier, workOrderID, to string, from []string) error {
	pgID, err := dbpkg.ParseUUID(workOrderID)
	if err != nil {
		return ErrNotFound
	}
	tag, err := q.Exec(ctx,
		`UPDATE work_orders SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = ANY($3)`,
		pgID, to, from,
	)
	if err != nil {
		return fmt.Errorf("update work order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or in a status the transition does not allow.
		if _, err := s.Get(ctx, q, workOrderID); err != nil {
			return err
		}
		return ErrBadTransition
	}
	s.logger.Info("work order status updated",
		slog.String("work_order_id", workOrderID), slog.String("status", to))
	return nil
}

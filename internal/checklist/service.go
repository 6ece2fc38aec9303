package checklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
)

var (
	ErrTemplateNotFound = errors.New("checklist template not found")
	ErrInstanceNotFound = errors.New("checklist instance not found")
	ErrItemNotFound     = errors.New("checklist item not found")
	ErrItemsPending     = errors.New("checklist has pending items")
)

// Service manages checklist templates and instances.
type Service struct {
	logger *slog.Logger
}

// NewService creates a checklist service.
func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger: log.With(slog.String("service", "checklist")),
	}
}

// CreateTemplate creates a template with its items, positions assigned 1-based
// in request order.
func (s *Service) CreateTemplate(ctx context.Context, q dbpkg.Querier, name string, items []TemplateItemRequest) (Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Template{}, fmt.Errorf("template name is required")
	}
	if len(items) == 0 {
		return Template{}, fmt.Errorf("template needs at least one item")
	}

	var (
		id        pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	err := q.QueryRow(ctx,
		`INSERT INTO checklist_templates (name) VALUES ($1) RETURNING id, created_at`,
		name,
	).Scan(&id, &createdAt)
	if err != nil {
		return Template{}, fmt.Errorf("create template: %w", err)
	}

	tpl := Template{
		ID:        dbpkg.UUIDToString(id),
		Name:      name,
		CreatedAt: dbpkg.TimeFromPg(createdAt),
	}
	for i, item := range items {
		itemName := strings.TrimSpace(item.Name)
		if itemName == "" {
			return Template{}, fmt.Errorf("item %d: name is required", i+1)
		}
		var itemID pgtype.UUID
		err := q.QueryRow(ctx,
			`INSERT INTO checklist_template_items (template_id, position, name, description)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			id, i+1, itemName, strings.TrimSpace(item.Description),
		).Scan(&itemID)
		if err != nil {
			return Template{}, fmt.Errorf("create template item: %w", err)
		}
		tpl.Items = append(tpl.Items, TemplateItem{
			ID:          dbpkg.UUIDToString(itemID),
			TemplateID:  tpl.ID,
			Position:    i + 1,
			Name:        itemName,
			Description: strings.TrimSpace(item.Description),
		})
	}

	s.logger.Info("template created", slog.String("template_id", tpl.ID), slog.Int("items", len(tpl.Items)))
	return tpl, nil
}

// GetTemplate returns a template with its items.
func (s *Service) GetTemplate(ctx context.Context, q dbpkg.Querier, templateID string) (Template, error) {
	pgID, err := dbpkg.ParseUUID(templateID)
	if err != nil {
		return Template{}, ErrTemplateNotFound
	}

	var tpl Template
	var createdAt pgtype.Timestamptz
	err = q.QueryRow(ctx,
		`SELECT id, name, created_at FROM checklist_templates WHERE id = $1`, pgID,
	).Scan(&pgID, &tpl.Name, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrTemplateNotFound
		}
		return Template{}, fmt.Errorf("load template: %w", err)
	}
	tpl.ID = dbpkg.UUIDToString(pgID)
	tpl.CreatedAt = dbpkg.TimeFromPg(createdAt)

	rows, err := q.Query(ctx,
		`SELECT id, position, name, description FROM checklist_template_items
		 WHERE template_id = $1 ORDER BY position`, pgID,
	)
	if err != nil {
		return Template{}, fmt.Errorf("load template items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			itemID pgtype.UUID
			item   TemplateItem
		)
		if err := rows.Scan(&itemID, &item.Position, &item.Name, &item.Description); err != nil {
			return Template{}, err
		}
		item.ID = dbpkg.UUIDToString(itemID)
		item.TemplateID = tpl.ID
		tpl.Items = append(tpl.Items, item)
	}
	return tpl, rows.Err()
}

// ListTemplates returns all templates without items.
func (s *Service) ListTemplates(ctx context.Context, q dbpkg.Querier) ([]Template, error) {
	rows, err := q.Query(ctx, `SELECT id, name, created_at FROM checklist_templates ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var (
			id        pgtype.UUID
			createdAt pgtype.Timestamptz
			tpl       Template
		)
		if err := rows.Scan(&id, &tpl.Name, &createdAt); err != nil {
			return nil, err
		}
		tpl.ID = dbpkg.UUIDToString(id)
		tpl.CreatedAt = dbpkg.TimeFromPg(createdAt)
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

const instanceColumns = `id, work_order_id, template_id, status, created_at, completed_at`

func scanInstance(row pgx.Row) (Instance, error) {
	var (
		id          pgtype.UUID
		workOrderID pgtype.UUID
		templateID  pgtype.UUID
		createdAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		inst        Instance
	)
	if err := row.Scan(&id, &workOrderID, &templateID, &inst.Status, &createdAt, &completedAt); err != nil {
		return Instance{}, err
	}
	inst.ID = dbpkg.UUIDToString(id)
	inst.WorkOrderID = dbpkg.UUIDToString(workOrderID)
	inst.TemplateID = dbpkg.UUIDToString(templateID)
	inst.CreatedAt = dbpkg.TimeFromPg(createdAt)
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}
	return inst, nil
}

// EnsureInstance returns the checklist instance for a work order, materializing
// it from the template on first call. The insert uses ON CONFLICT DO NOTHING
// against the work_order_id unique constraint, so a losing racer re-reads the
// winner's instance without aborting the surrounding transaction.
func (s *Service) EnsureInstance(ctx context.Context, q dbpkg.Querier, workOrderID, templateID string) (Instance, error) {
	inst, err := s.InstanceForWorkOrder(ctx, q, workOrderID)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, ErrInstanceNotFound) {
		return Instance{}, err
	}

	pgWorkOrder, err := dbpkg.ParseUUID(workOrderID)
	if err != nil {
		return Instance{}, fmt.Errorf("invalid work order id: %w", err)
	}
	pgTemplate, err := dbpkg.ParseUUID(templateID)
	if err != nil {
		return Instance{}, fmt.Errorf("invalid template id: %w", err)
	}

	row := q.QueryRow(ctx,
		`INSERT INTO checklist_instances (work_order_id, template_id)
		 VALUES ($1, $2) ON CONFLICT (work_order_id) DO NOTHING
		 RETURNING `+instanceColumns,
		pgWorkOrder, pgTemplate,
	)
	inst, err = scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.InstanceForWorkOrder(ctx, q, workOrderID)
		}
		return Instance{}, fmt.Errorf("create instance: %w", err)
	}

	pgInstance, _ := dbpkg.ParseUUID(inst.ID)
	_, err = q.Exec(ctx,
		`INSERT INTO checklist_instance_items (instance_id, template_item_id, position, name)
		 SELECT $1, id, position, name FROM checklist_template_items WHERE template_id = $2`,
		pgInstance, pgTemplate,
	)
	if err != nil {
		return Instance{}, fmt.Errorf("materialize items: %w", err)
	}

	s.logger.Info("checklist instance created",
		slog.String("instance_id", inst.ID), slog.String("work_order_id", workOrderID))
	return inst, nil
}

// InstanceForWorkOrder returns the instance for a work order.
func (s *Service) InstanceForWorkOrder(ctx context.Context, q dbpkg.Querier, workOrderID string) (Instance, error) {
	pgID, err := dbpkg.ParseUUID(workOrderID)
	if err != nil {
		return Instance{}, ErrInstanceNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+instanceColumns+` FROM checklist_instances WHERE work_order_id = $1`, pgID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrInstanceNotFound
		}
		return Instance{}, fmt.Errorf("load instance: %w", err)
	}
	return inst, nil
}

const itemColumns = `id, instance_id, template_item_id, position, name, status, comment, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var (
		id             pgtype.UUID
		instanceID     pgtype.UUID
		templateItemID pgtype.UUID
		updatedAt      pgtype.Timestamptz
		item           Item
	)
	err := row.Scan(&id, &instanceID, &templateItemID, &item.Position, &item.Name,
		&item.Status, &item.Comment, &updatedAt)
	if err != nil {
		return Item{}, err
	}
	item.ID = dbpkg.UUIDToString(id)
	item.InstanceID = dbpkg.UUIDToString(instanceID)
	item.TemplateItemID = dbpkg.UUIDToString(templateItemID)
	item.UpdatedAt = dbpkg.TimeFromPg(updatedAt)
	return item, nil
}

// Items returns all items of an instance ordered by position.
func (s *Service) Items(ctx context.Context, q dbpkg.Querier, instanceID string) ([]Item, error) {
	pgID, err := dbpkg.ParseUUID(instanceID)
	if err != nil {
		return nil, ErrInstanceNotFound
	}
	rows, err := q.Query(ctx,
		`SELECT `+itemColumns+` FROM checklist_instance_items WHERE instance_id = $1 ORDER BY position`,
		pgID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ItemByPosition returns the item at a 1-based position within an instance.
func (s *Service) ItemByPosition(ctx context.Context, q dbpkg.Querier, instanceID string, position int) (Item, error) {
	pgID, err := dbpkg.ParseUUID(instanceID)
	if err != nil {
		return Item{}, ErrInstanceNotFound
	}
	row := q.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM checklist_instance_items WHERE instance_id = $1 AND position = $2`,
		pgID, position,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

// GetItem returns an item by ID.
func (s *Service) GetItem(ctx context.Context, q dbpkg.Querier, itemID string) (Item, error) {
	pgID, err := dbpkg.ParseUUID(itemID)
	if err != nil {
		return Item{}, ErrItemNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+itemColumns+` FROM checklist_instance_items WHERE id = $1`, pgID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("load item: %w", err)
	}
	return item, nil
}

// AddComment appends a comment line to an item.
func (s *Service) AddComment(ctx context.Context, q dbpkg.Querier, itemID, comment string) (Item, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return Item{}, fmt.Errorf("comment is required")
	}
	pgID, err := dbpkg.ParseUUID(itemID)
	if err != nil {
		return Item{}, ErrItemNotFound
	}
	row := q.QueryRow(ctx,
		`UPDATE checklist_instance_items
		 SET comment = CASE WHEN comment = '' THEN $2 ELSE comment || E'\n' || $2 END,
		     updated_at = now()
		 WHERE id = $1 RETURNING `+itemColumns,
		pgID, comment,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("add comment: %w", err)
	}
	return item, nil
}

// CompleteItem marks an item done. Completing an already done item is a no-op;
// completing an issue item resolves it to done.
func (s *Service) CompleteItem(ctx context.Context, q dbpkg.Querier, itemID string) (Item, error) {
	return s.setItemStatus(ctx, q, itemID, ItemDone)
}

// MarkIssue flags an item as having an issue, appending note to its comment
// when present.
func (s *Service) MarkIssue(ctx context.Context, q dbpkg.Querier, itemID, note string) (Item, error) {
	item, err := s.setItemStatus(ctx, q, itemID, ItemIssue)
	if err != nil {
		return Item{}, err
	}
	if strings.TrimSpace(note) != "" {
		return s.AddComment(ctx, q, itemID, note)
	}
	return item, nil
}

func (s *Service) setItemStatus(ctx context.Context, q dbpkg.Querier, itemID, status string) (Item, error) {
	pgID, err := dbpkg.ParseUUID(itemID)
	if err != nil {
		return Item{}, ErrItemNotFound
	}
	row := q.QueryRow(ctx,
		`UPDATE checklist_instance_items SET status = $2, updated_at = now()
		 WHERE id = $1 RETURNING `+itemColumns,
		pgID, status,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("update item status: %w", err)
	}
	return item, nil
}

// Pending returns the items of an instance that still block completion.
func (s *Service) Pending(ctx context.Context, q dbpkg.Querier, instanceID string) ([]Item, error) {
	items, err := s.Items(ctx, q, instanceID)
	if err != nil {
		return nil, err
	}
	var pending []Item
	for _, item := range items {
		if !item.Addressed() {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// Complete marks an instance completed. It is the single authority on whether
// an inspection may finish: any pending item yields ErrItemsPending. Completing
// an already completed instance is a no-op.
func (s *Service) Complete(ctx context.Context, q dbpkg.Querier, instanceID string) (Instance, error) {
	inst, err := s.instance(ctx, q, instanceID)
	if err != nil {
		return Instance{}, err
	}
	if inst.Status == InstanceCompleted {
		return inst, nil
	}

	pending, err := s.Pending(ctx, q, instanceID)
	if err != nil {
		return Instance{}, err
	}
	if len(pending) > 0 {
		return Instance{}, ErrItemsPending
	}

	pgID, _ := dbpkg.ParseUUID(instanceID)
	row := q.QueryRow(ctx,
		`UPDATE checklist_instances SET status = $2, completed_at = now()
		 WHERE id = $1 RETURNING `+instanceColumns,
		pgID, InstanceCompleted,
	)
	inst, err = scanInstance(row)
	if err != nil {
		return Instance{}, fmt.Errorf("complete instance: %w", err)
	}
	s.logger.Info("checklist completed", slog.String("instance_id", inst.ID))
	return inst, nil
}

func (s *Service) instance(ctx context.Context, q dbpkg.Querier, instanceID string) (Instance, error) {
	pgID, err := dbpkg.ParseUUID(instanceID)
	if err != nil {
		return Instance{}, ErrInstanceNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+instanceColumns+` FROM checklist_instances WHERE id = $1`, pgID)
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, ErrInstanceNotFound
		}
		return Instance{}, fmt.Errorf("load instance: %w", err)
	}
	return inst, nil
}

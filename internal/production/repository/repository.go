package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier_backend/internal/production/domain"
)

// Repo is the PostgreSQL store.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Repo)(nil)

func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

const uniqueViolation = "23505"

const orderColumns = `id, sequence_number, client, current_stage_id, status, total_units, version, created_at, last_modified_at`

const unitColumns = `id, order_id, reference_id, size_id, quantity, stage_id, worker_id, workshop_id,
	status, rework_origin, parent_work_unit_id, created_at, completed_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status string
	err := row.Scan(&o.ID, &o.SequenceNumber, &o.Client, &o.CurrentStageID, &status,
		&o.TotalUnits, &o.Version, &o.CreatedAt, &o.LastModifiedAt)
	o.Status = domain.OrderStatus(status)
	return o, err
}

func scanUnit(row pgx.Row) (domain.WorkUnit, error) {
	var u domain.WorkUnit
	var status string
	err := row.Scan(&u.ID, &u.OrderID, &u.ReferenceID, &u.SizeID, &u.Quantity, &u.StageID,
		&u.WorkerID, &u.WorkshopID, &status, &u.ReworkOrigin, &u.ParentID, &u.CreatedAt, &u.CompletedAt)
	u.Status = domain.WorkUnitStatus(status)
	return u, err
}

// =====================================
// Stages
// =====================================

func (r *Repo) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, order_index, kind, branches, inherit, sla_seconds
		FROM stages
		ORDER BY order_index ASC, code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	stages := make([]domain.Stage, 0)
	for rows.Next() {
		var s domain.Stage
		var kind string
		var slaSeconds int64
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.OrderIndex, &kind, &s.Branches, &s.Inherit, &slaSeconds); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		s.Kind = domain.StageKind(kind)
		s.SLA = time.Duration(slaSeconds) * time.Second
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func (r *Repo) UpsertStages(ctx context.Context, stages []domain.Stage) error {
	batch := &pgx.Batch{}
	for _, s := range stages {
		branches := s.Branches
		if branches == nil {
			branches = []string{}
		}
		batch.Queue(`
			INSERT INTO stages (id, code, name, order_index, kind, branches, inherit, sequenced, sla_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				order_index = EXCLUDED.order_index,
				kind = EXCLUDED.kind,
				branches = EXCLUDED.branches,
				inherit = EXCLUDED.inherit,
				sequenced = EXCLUDED.sequenced,
				sla_seconds = EXCLUDED.sla_seconds
		`, s.ID, s.Code, s.Name, s.OrderIndex, string(s.Kind), branches, s.Inherit, s.Sequenced(), int64(s.SLA/time.Second))
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range stages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert stage: %w", err)
		}
	}
	return nil
}

// =====================================
// Orders
// =====================================

func (r *Repo) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, orderNotFound(id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	lines, err := listLines(ctx, r.pool, id)
	if err != nil {
		return domain.Order{}, err
	}
	o.Lines = lines
	return o, nil
}

func (r *Repo) GetOrderVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx, `SELECT version FROM orders WHERE id = $1`, id).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, orderNotFound(id)
	}
	if err != nil {
		return 0, fmt.Errorf("get order version: %w", err)
	}
	return version, nil
}

func (r *Repo) ListOrders(ctx context.Context, params ListParams) ([]domain.Order, int, error) {
	whereClause, args, argIdx := buildOrderListWhere(params)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders o WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(`
		SELECT %s FROM orders o
		WHERE %s
		ORDER BY o.sequence_number DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, whereClause, argIdx, argIdx+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return orders, total, nil
}

func buildOrderListWhere(params ListParams) (string, []interface{}, int) {
	whereClauses := []string{"TRUE"}
	args := []interface{}{}
	argIdx := 1
	if params.Status != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("o.status = $%d", argIdx))
		args = append(args, string(*params.Status))
		argIdx++
	}
	if params.StageID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("o.current_stage_id = $%d", argIdx))
		args = append(args, *params.StageID)
		argIdx++
	}
	if search := strings.TrimSpace(params.Search); search != "" {
		whereClauses = append(whereClauses, fmt.Sprintf("o.client ILIKE $%d", argIdx))
		args = append(args, "%"+search+"%")
		argIdx++
	}
	return strings.Join(whereClauses, " AND "), args, argIdx
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLines(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT reference_id, size_id, quantity
		FROM order_lines
		WHERE order_id = $1
		ORDER BY reference_id, size_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.ReferenceID, &l.SizeID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *Repo) CreateOrder(ctx context.Context, order domain.Order, first domain.StageHistoryEntry) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin create order: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO orders (id, client, current_stage_id, status, total_units, version, created_at, last_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+orderColumns,
		order.ID, order.Client, order.CurrentStageID, string(order.Status), order.TotalUnits,
		order.Version, order.CreatedAt, order.LastModifiedAt))
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range order.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, reference_id, size_id, quantity) VALUES ($1, $2, $3, $4)`,
			order.ID, l.ReferenceID, l.SizeID, l.Quantity)
	}
	queueOpenHistory(batch, first)
	if err := execBatch(ctx, tx, batch); err != nil {
		return domain.Order{}, fmt.Errorf("insert order rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit create order: %w", err)
	}
	created.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return created, nil
}

// Commit bumps the order version with a compare-and-set and writes the
// change set in the same transaction.
func (r *Repo) Commit(ctx context.Context, cs domain.ChangeSet) (domain.Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status *string
	if cs.Status != nil {
		s := string(*cs.Status)
		status = &s
	}
	order, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET
			version = version + 1,
			last_modified_at = $3,
			status = COALESCE($4, status),
			current_stage_id = COALESCE($5, current_stage_id)
		WHERE id = $1 AND version = $2
		RETURNING `+orderColumns,
		cs.OrderID, cs.ExpectedVersion, cs.At, status, cs.CurrentStageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, r.commitMiss(ctx, tx, cs)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("bump order version: %w", err)
	}

	batch := &pgx.Batch{}
	if cs.CloseStageHistoryID != nil {
		batch.Queue(`UPDATE stage_history SET completed_at = $2 WHERE id = $1 AND completed_at IS NULL`,
			*cs.CloseStageHistoryID, cs.At)
	}
	if cs.OpenStageHistory != nil {
		queueOpenHistory(batch, *cs.OpenStageHistory)
	}
	for _, u := range cs.NewUnits {
		batch.Queue(`
			INSERT INTO work_units (`+unitColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, u.ID, u.OrderID, u.ReferenceID, u.SizeID, u.Quantity, u.StageID, u.WorkerID, u.WorkshopID,
			string(u.Status), u.ReworkOrigin, u.ParentID, u.CreatedAt, u.CompletedAt)
	}
	for _, u := range cs.UpdatedUnits {
		batch.Queue(`
			UPDATE work_units SET status = $3, worker_id = $4, workshop_id = $5, completed_at = $6
			WHERE id = $1 AND order_id = $2
		`, u.ID, u.OrderID, string(u.Status), u.WorkerID, u.WorkshopID, u.CompletedAt)
	}
	for _, h := range cs.UnitHistory {
		batch.Queue(`
			INSERT INTO work_unit_history (id, work_unit_id, stage_id, started_at, completed_at)
			VALUES ($1, $2, $3, $4, $5)
		`, h.ID, h.WorkUnitID, h.StageID, h.StartedAt, h.CompletedAt)
	}
	for _, s := range cs.Shortages {
		batch.Queue(`
			INSERT INTO shortage_records (id, work_unit_id, missing_quantity, recorded_at)
			VALUES ($1, $2, $3, $4)
		`, s.ID, s.WorkUnitID, s.MissingQuantity, s.RecordedAt)
	}
	for _, o := range cs.Outcomes {
		batch.Queue(`
			INSERT INTO review_outcomes (work_unit_id, approved, repair, discard, reviewed_by, reviewed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, o.WorkUnitID, o.Approved, o.Repair, o.Discard, o.ReviewedBy, o.ReviewedAt)
	}
	if err := execBatch(ctx, tx, batch); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.TableName == "review_outcomes" {
			return domain.Order{}, alreadyReviewed(uuid.Nil)
		}
		return domain.Order{}, fmt.Errorf("write change set: %w", err)
	}

	lines, err := listLines(ctx, tx, cs.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	if err := tx.Commit(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("commit change set: %w", err)
	}
	return order, nil
}

// commitMiss tells a vanished order apart from a stale version.
func (r *Repo) commitMiss(ctx context.Context, tx pgx.Tx, cs domain.ChangeSet) error {
	var current int64
	err := tx.QueryRow(ctx, `SELECT version FROM orders WHERE id = $1`, cs.OrderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderNotFound(cs.OrderID)
	}
	if err != nil {
		return fmt.Errorf("read order version: %w", err)
	}
	return staleVersion(cs.OrderID, cs.ExpectedVersion, current)
}

func queueOpenHistory(batch *pgx.Batch, h domain.StageHistoryEntry) {
	batch.Queue(`
		INSERT INTO stage_history (id, order_id, stage_id, worker_id, workshop_id, started_at, completed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.OrderID, h.StageID, h.WorkerID, h.WorkshopID, h.StartedAt, h.CompletedAt, h.Notes)
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// =====================================
// Workflow rows
// =====================================

func (r *Repo) ListWorkUnits(ctx context.Context, orderID uuid.UUID) ([]domain.WorkUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+unitColumns+`
		FROM work_units
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list work units: %w", err)
	}
	defer rows.Close()

	units := make([]domain.WorkUnit, 0)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *Repo) ListStageHistory(ctx context.Context, orderID uuid.UUID) ([]domain.StageHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, stage_id, worker_id, workshop_id, started_at, completed_at, notes
		FROM stage_history
		WHERE order_id = $1
		ORDER BY started_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list stage history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StageHistoryEntry, 0)
	for rows.Next() {
		var h domain.StageHistoryEntry
		if err := rows.Scan(&h.ID, &h.OrderID, &h.StageID, &h.WorkerID, &h.WorkshopID, &h.StartedAt, &h.CompletedAt, &h.Notes); err != nil {
			return nil, fmt.Errorf("scan stage history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (r *Repo) ListWorkUnitHistory(ctx context.Context, orderID uuid.UUID) ([]domain.WorkUnitHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT h.id, h.work_unit_id, h.stage_id, h.started_at, h.completed_at
		FROM work_unit_history h
		JOIN work_units u ON u.id = h.work_unit_id
		WHERE u.order_id = $1
		ORDER BY h.started_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list work unit history: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.WorkUnitHistoryEntry, 0)
	for rows.Next() {
		var h domain.WorkUnitHistoryEntry
		if err := rows.Scan(&h.ID, &h.WorkUnitID, &h.StageID, &h.StartedAt, &h.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan work unit history: %w", err)
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

func (r *Repo) ListShortages(ctx context.Context, orderID uuid.UUID) ([]domain.ShortageRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.work_unit_id, s.missing_quantity, s.recorded_at
		FROM shortage_records s
		JOIN work_units u ON u.id = s.work_unit_id
		WHERE u.order_id = $1
		ORDER BY s.recorded_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list shortages: %w", err)
	}
	defer rows.Close()

	records := make([]domain.ShortageRecord, 0)
	for rows.Next() {
		var s domain.ShortageRecord
		if err := rows.Scan(&s.ID, &s.WorkUnitID, &s.MissingQuantity, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan shortage: %w", err)
		}
		records = append(records, s)
	}
	return records, rows.Err()
}

func (r *Repo) ListReviewOutcomes(ctx context.Context, orderID uuid.UUID) ([]domain.ReviewOutcome, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT o.work_unit_id, o.approved, o.repair, o.discard, o.reviewed_by, o.reviewed_at
		FROM review_outcomes o
		JOIN work_units u ON u.id = o.work_unit_id
		WHERE u.order_id = $1
		ORDER BY o.reviewed_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list review outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]domain.ReviewOutcome, 0)
	for rows.Next() {
		var o domain.ReviewOutcome
		if err := rows.Scan(&o.WorkUnitID, &o.Approved, &o.Repair, &o.Discard, &o.ReviewedBy, &o.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan review outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

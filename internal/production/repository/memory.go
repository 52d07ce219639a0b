package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"atelier_backend/internal/production/domain"
)

// Memory is an in-process store with the same commit semantics as Repo.
// It backs STORE_DRIVER=memory and the service tests.
type Memory struct {
	mu           sync.RWMutex
	stages       map[uuid.UUID]domain.Stage
	orders       map[uuid.UUID]domain.Order
	seq          int64
	units        map[uuid.UUID]domain.WorkUnit
	stageHistory []domain.StageHistoryEntry
	unitHistory  []domain.WorkUnitHistoryEntry
	shortages    []domain.ShortageRecord
	outcomes     map[uuid.UUID]domain.ReviewOutcome
}

var _ Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		stages:   make(map[uuid.UUID]domain.Stage),
		orders:   make(map[uuid.UUID]domain.Order),
		units:    make(map[uuid.UUID]domain.WorkUnit),
		outcomes: make(map[uuid.UUID]domain.ReviewOutcome),
	}
}

func (m *Memory) ListStages(_ context.Context) ([]domain.Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Stage, 0, len(m.stages))
	for _, s := range m.stages {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderIndex != out[j].OrderIndex {
			return out[i].OrderIndex < out[j].OrderIndex
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (m *Memory) UpsertStages(_ context.Context, stages []domain.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stages {
		m.stages[s.ID] = s
	}
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id uuid.UUID) (domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, orderNotFound(id)
	}
	return copyOrder(o), nil
}

func (m *Memory) GetOrderVersion(_ context.Context, id uuid.UUID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return 0, orderNotFound(id)
	}
	return o.Version, nil
}

func (m *Memory) ListOrders(_ context.Context, params ListParams) ([]domain.Order, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(params.Search))
	matched := make([]domain.Order, 0)
	for _, o := range m.orders {
		if params.Status != nil && o.Status != *params.Status {
			continue
		}
		if params.StageID != nil && o.CurrentStageID != *params.StageID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(o.Client), search) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].SequenceNumber > matched[j].SequenceNumber })

	total := len(matched)
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(params.Offset, total)
	end := min(start+limit, total)
	page := make([]domain.Order, 0, end-start)
	for _, o := range matched[start:end] {
		o.Lines = nil
		page = append(page, o)
	}
	return page, total, nil
}

func (m *Memory) CreateOrder(_ context.Context, order domain.Order, first domain.StageHistoryEntry) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	order.SequenceNumber = m.seq
	order = copyOrder(order)
	m.orders[order.ID] = order
	m.stageHistory = append(m.stageHistory, first)
	return copyOrder(order), nil
}

// Commit validates the whole change set before touching state so a failed
// commit leaves nothing behind.
func (m *Memory) Commit(_ context.Context, cs domain.ChangeSet) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[cs.OrderID]
	if !ok {
		return domain.Order{}, orderNotFound(cs.OrderID)
	}
	if order.Version != cs.ExpectedVersion {
		return domain.Order{}, staleVersion(cs.OrderID, cs.ExpectedVersion, order.Version)
	}
	for _, o := range cs.Outcomes {
		if _, dup := m.outcomes[o.WorkUnitID]; dup {
			return domain.Order{}, alreadyReviewed(o.WorkUnitID)
		}
	}

	order.Version++
	order.LastModifiedAt = cs.At
	if cs.Status != nil {
		order.Status = *cs.Status
	}
	if cs.CurrentStageID != nil {
		order.CurrentStageID = *cs.CurrentStageID
	}
	m.orders[order.ID] = order

	if cs.CloseStageHistoryID != nil {
		for i := range m.stageHistory {
			h := &m.stageHistory[i]
			if h.ID == *cs.CloseStageHistoryID && h.CompletedAt == nil {
				at := cs.At
				h.CompletedAt = &at
			}
		}
	}
	if cs.OpenStageHistory != nil {
		m.stageHistory = append(m.stageHistory, *cs.OpenStageHistory)
	}
	for _, u := range cs.NewUnits {
		m.units[u.ID] = u
	}
	for _, u := range cs.UpdatedUnits {
		if existing, ok := m.units[u.ID]; ok && existing.OrderID == u.OrderID {
			m.units[u.ID] = u
		}
	}
	m.unitHistory = append(m.unitHistory, cs.UnitHistory...)
	m.shortages = append(m.shortages, cs.Shortages...)
	for _, o := range cs.Outcomes {
		m.outcomes[o.WorkUnitID] = o
	}
	return copyOrder(order), nil
}

func (m *Memory) ListWorkUnits(_ context.Context, orderID uuid.UUID) ([]domain.WorkUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.WorkUnit, 0)
	for _, u := range m.units {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	return domain.SortUnits(out), nil
}

func (m *Memory) ListStageHistory(_ context.Context, orderID uuid.UUID) ([]domain.StageHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StageHistoryEntry, 0)
	for _, h := range m.stageHistory {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListWorkUnitHistory(_ context.Context, orderID uuid.UUID) ([]domain.WorkUnitHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.WorkUnitHistoryEntry, 0)
	for _, h := range m.unitHistory {
		if m.units[h.WorkUnitID].OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListShortages(_ context.Context, orderID uuid.UUID) ([]domain.ShortageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ShortageRecord, 0)
	for _, s := range m.shortages {
		if m.units[s.WorkUnitID].OrderID == orderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ListReviewOutcomes(_ context.Context, orderID uuid.UUID) ([]domain.ReviewOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ReviewOutcome, 0)
	for _, o := range m.outcomes {
		if m.units[o.WorkUnitID].OrderID == orderID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkUnitID.String() < out[j].WorkUnitID.String() })
	return out, nil
}

func copyOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

package service

import (
	"context"
	"fmt"
	"strings"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

// ListBatches reads the remote batches, or the terminal's cached ledger when
// the remote store cannot be reached.
func (s *Service) ListBatches(ctx context.Context, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	batches, err := s.repo.ListBatches(ctx, filter)
	if err == nil {
		return batches, nil
	}
	if !s.stock.Loaded() {
		return nil, err
	}
	s.logger.Warn("serving batches from local cache", "error", err)
	out := make([]domain.InventoryBatch, 0)
	for _, batch := range s.stock.Snapshot().Batches() {
		if filter.ProductID != "" && batch.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && batch.LocationID != filter.LocationID {
			continue
		}
		out = append(out, batch)
	}
	return out, nil
}

// ReceiveBatch records a new batch. Batches are never merged, even with an
// existing batch of the same cost and expiration.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.BatchReceiveRequest) (domain.InventoryBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager, domain.RoleWarehouse); err != nil {
		return domain.InventoryBatch{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.InventoryBatch{}, err
	}
	expiration, err := parseDate(req.ExpirationDate)
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	created, err := s.createBatch(ctx, domain.InventoryBatch{
		ProductID:      strings.TrimSpace(req.ProductID),
		LocationID:     strings.TrimSpace(req.LocationID),
		Quantity:       req.Quantity,
		CostCents:      req.CostCents,
		ExpirationDate: expiration,
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	s.logAudit(ctx, "", "batch_receive", "batch", created.ID, fmt.Sprintf("product=%s,location=%s,qty=%d", created.ProductID, created.LocationID, created.Quantity))
	return created, nil
}

// UpdateBatch corrects a batch remotely and mirrors it into the cache.
func (s *Service) UpdateBatch(ctx context.Context, id string, update domain.BatchUpdate) (domain.InventoryBatch, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.InventoryBatch{}, err
	}
	if err := s.validateRequest(update); err != nil {
		return domain.InventoryBatch{}, err
	}
	updated, err := s.repo.UpdateBatch(ctx, id, update)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if err := s.stock.Put(ctx, *updated); err != nil {
		s.logger.Warn("failed to mirror batch", "batch_id", updated.ID, "error", err)
	}
	s.logAudit(ctx, "", "batch_update", "batch", updated.ID, fmt.Sprintf("qty=%d,cost=%d", updated.Quantity, updated.CostCents))
	return *updated, nil
}

// StockLevel reports the cached stock of a product at a location with its
// batches in FEFO order.
func (s *Service) StockLevel(productID string, locationID string) domain.StockLevel {
	snapshot := s.stock.Snapshot()
	return domain.StockLevel{
		ProductID:  productID,
		LocationID: locationID,
		Total:      snapshot.TotalStock(productID, locationID),
		Available:  s.stock.Available(productID, locationID),
		Batches:    snapshot.Candidates(productID, locationID),
	}
}

// RecordConsumption deducts stock taken by an employee at their location in
// FEFO order and records its cost.
func (s *Service) RecordConsumption(ctx context.Context, req domain.ConsumptionRequest) (domain.EmployeeConsumption, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return domain.EmployeeConsumption{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.EmployeeConsumption{}, err
	}
	if actor.LocationID == "" {
		return domain.EmployeeConsumption{}, fmt.Errorf("%w: actor has no location", store.ErrInvalidInput)
	}

	demand := domain.StockDemand{ProductID: req.ProductID, LocationID: actor.LocationID, Quantity: req.Quantity}
	deductions, err := s.consume(ctx, []domain.StockDemand{demand})
	if err != nil {
		return domain.EmployeeConsumption{}, err
	}

	record := domain.EmployeeConsumption{
		ID:          xid.New("consumption"),
		UserID:      actor.Username,
		LocationID:  actor.LocationID,
		ProductID:   req.ProductID,
		Quantity:    req.Quantity,
		CostCents:   allocationCost(deductions[0].Allocations),
		Allocations: deductions[0].Allocations,
		CreatedAt:   s.now(),
	}
	created, err := s.repo.CreateConsumption(ctx, record)
	if err != nil {
		return domain.EmployeeConsumption{}, err
	}
	s.logAudit(ctx, "", "employee_consumption", "product", req.ProductID, fmt.Sprintf("qty=%d,cost=%d", req.Quantity, created.CostCents))
	return *created, nil
}

func (s *Service) createBatch(ctx context.Context, batch domain.InventoryBatch) (domain.InventoryBatch, error) {
	batch.ID = xid.New("batch")
	batch.CreatedAt = s.now()
	created, err := s.repo.CreateBatch(ctx, batch)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if err := s.stock.Put(ctx, *created); err != nil {
		s.logger.Warn("failed to mirror batch", "batch_id", created.ID, "error", err)
	}
	return *created, nil
}

// consume checks that the remote stock covers every demand, deducts it in
// FEFO order and mirrors the deduction into the terminal's cache.
func (s *Service) consume(ctx context.Context, demands []domain.StockDemand) ([]domain.StockDeduction, error) {
	if err := s.checkStock(ctx, demands); err != nil {
		return nil, err
	}

	deductions, err := s.repo.ConsumeStock(ctx, demands)
	if err != nil {
		return nil, err
	}
	s.stock.Deduct(ctx, demands)
	return deductions, nil
}

func (s *Service) checkStock(ctx context.Context, demands []domain.StockDemand) error {
	for _, demand := range demands {
		batches, err := s.repo.ListBatches(ctx, domain.BatchFilter{ProductID: demand.ProductID, LocationID: demand.LocationID})
		if err != nil {
			return err
		}
		if have := ledger.New(batches).TotalStock(demand.ProductID, demand.LocationID); have < demand.Quantity {
			return fmt.Errorf("%w: %s has %d units at %s, %d requested", store.ErrInvalidInput, demand.ProductID, have, demand.LocationID, demand.Quantity)
		}
	}
	return nil
}

func allocationCost(allocations []domain.BatchAllocation) int64 {
	var total int64
	for _, allocation := range allocations {
		total += int64(allocation.Quantity) * allocation.CostCents
	}
	return total
}

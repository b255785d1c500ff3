package service

import (
	"context"
	"fmt"
	"strings"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/transfer"
	"tiendapos/backend/internal/xid"
)

func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (domain.Transfer, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return domain.Transfer{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Transfer{}, err
	}

	t, err := transfer.New(xid.New("transfer"), strings.TrimSpace(req.OriginLocationID), strings.TrimSpace(req.DestinationLocationID), req.Items, actor, s.now())
	if err != nil {
		return domain.Transfer{}, err
	}
	created, err := s.repo.CreateTransfer(ctx, t)
	if err != nil {
		return domain.Transfer{}, err
	}
	s.logAudit(ctx, "", "transfer_create", "transfer", created.ID, fmt.Sprintf("%s->%s,items=%d", created.OriginLocationID, created.DestinationLocationID, len(created.Items)))
	return *created, nil
}

func (s *Service) GetTransfer(ctx context.Context, id string) (domain.Transfer, error) {
	t, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return domain.Transfer{}, err
	}
	return *t, nil
}

func (s *Service) ListTransfers(ctx context.Context, locationID string) ([]domain.Transfer, error) {
	return s.repo.ListTransfers(ctx, locationID)
}

// AdvanceTransfer moves a transfer one step. The remote update is made
// conditional on the status read here, so a concurrent advance of the same
// transfer fails with store.ErrConflict instead of moving stock twice. When
// moving the stock of a ship or receive fails, the transfer goes back to the
// status it had and the step can be retried.
func (s *Service) AdvanceTransfer(ctx context.Context, id string, action transfer.Action, quantities map[string]int) (domain.Transfer, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return domain.Transfer{}, err
	}
	current, err := s.repo.GetTransfer(ctx, id)
	if err != nil {
		return domain.Transfer{}, err
	}

	next, err := transfer.Apply(*current, action, actor, quantities, s.now())
	if err != nil {
		return domain.Transfer{}, err
	}
	if action == transfer.ActionShip {
		demands, _ := shipDemands(next)
		if err := s.checkStock(ctx, demands); err != nil {
			return domain.Transfer{}, err
		}
	}
	saved, err := s.repo.UpdateTransfer(ctx, next, current.Status)
	if err != nil {
		return domain.Transfer{}, err
	}

	switch action {
	case transfer.ActionShip:
		shipped, err := s.shipItems(ctx, *saved)
		if err != nil {
			s.revertTransfer(ctx, *current, saved.Status)
			return domain.Transfer{}, err
		}
		saved = &shipped
	case transfer.ActionReceive:
		created, err := s.receiveItems(ctx, *saved)
		if err != nil {
			s.dropBatches(ctx, created)
			s.revertTransfer(ctx, *current, saved.Status)
			return domain.Transfer{}, err
		}
	}

	s.logAudit(ctx, "", "transfer_"+string(action), "transfer", saved.ID, "status="+string(saved.Status))
	return *saved, nil
}

// shipItems deducts the sent quantities at the origin and records which
// batches they came from.
func (s *Service) shipItems(ctx context.Context, t domain.Transfer) (domain.Transfer, error) {
	demands, index := shipDemands(t)
	if len(demands) == 0 {
		return t, nil
	}

	deductions, err := s.consume(ctx, demands)
	if err != nil {
		return domain.Transfer{}, fmt.Errorf("ship transfer %s: %w", t.ID, err)
	}
	for pos, idx := range index {
		t.Items[idx].Shipped = deductions[pos].Allocations
	}

	updated, err := s.repo.UpdateTransfer(ctx, t, domain.TransferShipped)
	if err != nil {
		// The origin stock is already gone; only the allocation record is missing.
		s.logger.Error("shipped batches not recorded", "transfer_id", t.ID, "error", err)
		return t, nil
	}
	return *updated, nil
}

// receiveItems creates the destination batches of a received transfer and
// returns the ones it created, also on error.
func (s *Service) receiveItems(ctx context.Context, t domain.Transfer) ([]domain.InventoryBatch, error) {
	var created []domain.InventoryBatch
	for _, item := range t.Items {
		if item.ReceivedQty <= 0 {
			continue
		}
		var fallbackCost int64
		if product, err := s.repo.GetProduct(ctx, item.ProductID); err == nil {
			fallbackCost = product.CostCents
		}
		for _, batch := range transfer.ReceivedBatches(item, t.DestinationLocationID, fallbackCost, s.now()) {
			stored, err := s.createBatch(ctx, batch)
			if err != nil {
				return created, fmt.Errorf("receive transfer %s: %w", t.ID, err)
			}
			created = append(created, stored)
		}
	}
	return created, nil
}

// revertTransfer puts back the stored state of a transfer whose stock
// movement failed after its status was saved as status.
func (s *Service) revertTransfer(ctx context.Context, previous domain.Transfer, status domain.TransferStatus) {
	if _, err := s.repo.UpdateTransfer(ctx, previous, status); err != nil {
		s.logger.Error("transfer left in failed step", "transfer_id", previous.ID, "status", status, "error", err)
	}
}

// dropBatches empties batches created by a receive that did not complete.
func (s *Service) dropBatches(ctx context.Context, batches []domain.InventoryBatch) {
	zero := 0
	for _, batch := range batches {
		emptied, err := s.repo.UpdateBatch(ctx, batch.ID, domain.BatchUpdate{Quantity: &zero})
		if err != nil {
			s.logger.Error("received batch not rolled back", "batch_id", batch.ID, "error", err)
			continue
		}
		if err := s.stock.Put(ctx, *emptied); err != nil {
			s.logger.Warn("failed to mirror batch", "batch_id", batch.ID, "error", err)
		}
	}
}

// shipDemands lists the origin deductions of t with the item index of each.
func shipDemands(t domain.Transfer) ([]domain.StockDemand, []int) {
	demands := make([]domain.StockDemand, 0, len(t.Items))
	index := make([]int, 0, len(t.Items))
	for idx, item := range t.Items {
		if item.SentQty <= 0 {
			continue
		}
		demands = append(demands, domain.StockDemand{ProductID: item.ProductID, LocationID: t.OriginLocationID, Quantity: item.SentQty})
		index = append(index, idx)
	}
	return demands, index
}

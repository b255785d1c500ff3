// Package transfer holds the stock transfer lifecycle between locations:
// solicitado -> aprobado -> enviado -> recibido.
package transfer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"tiendapos/backend/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid transfer transition")
	ErrForbidden         = errors.New("role not allowed for transfer action")
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionShip    Action = "ship"
	ActionReceive Action = "receive"
)

type rule struct {
	from  domain.TransferStatus
	to    domain.TransferStatus
	roles []string
}

var rules = map[Action]rule{
	ActionApprove: {from: domain.TransferRequested, to: domain.TransferApproved, roles: []string{domain.RoleAdmin, domain.RoleManager}},
	ActionShip:    {from: domain.TransferApproved, to: domain.TransferShipped, roles: []string{domain.RoleWarehouse, domain.RoleAdmin}},
	ActionReceive: {from: domain.TransferShipped, to: domain.TransferReceived, roles: []string{domain.RoleCashier, domain.RoleManager, domain.RoleAdmin}},
}

// Transition returns the status reached by action from current when role may
// perform it. It has no side effects.
func Transition(current domain.TransferStatus, action Action, role string) (domain.TransferStatus, error) {
	r, ok := rules[action]
	if !ok {
		return current, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if current != r.from {
		return current, fmt.Errorf("%w: cannot %s a transfer in status %s", ErrInvalidTransition, action, current)
	}
	if !slices.Contains(r.roles, role) {
		return current, fmt.Errorf("%w: %s cannot %s", ErrForbidden, role, action)
	}
	return r.to, nil
}

// Authorize checks Transition and the actor's location: shipping happens at
// the origin, receiving at the destination. Admins act anywhere.
func Authorize(t domain.Transfer, action Action, actor domain.Actor) (domain.TransferStatus, error) {
	next, err := Transition(t.Status, action, actor.Role)
	if err != nil {
		return t.Status, err
	}
	if actor.Role == domain.RoleAdmin {
		return next, nil
	}
	switch action {
	case ActionShip:
		if actor.LocationID != t.OriginLocationID {
			return t.Status, fmt.Errorf("%w: shipper must be at %s", ErrForbidden, t.OriginLocationID)
		}
	case ActionReceive:
		if actor.LocationID != t.DestinationLocationID {
			return t.Status, fmt.Errorf("%w: receiver must be at %s", ErrForbidden, t.DestinationLocationID)
		}
	}
	return next, nil
}

// Apply returns a copy of t moved to the next status with a history entry
// appended. For ship and receive, quantities maps product id to the sent or
// received amount; products missing from it default to the previous stage.
func Apply(t domain.Transfer, action Action, actor domain.Actor, quantities map[string]int, at time.Time) (domain.Transfer, error) {
	next, err := Authorize(t, action, actor)
	if err != nil {
		return t, err
	}

	out := t
	out.Items = make([]domain.TransferItem, len(t.Items))
	for idx, item := range t.Items {
		item.Shipped = slices.Clone(item.Shipped)
		switch action {
		case ActionShip:
			qty, ok := quantities[item.ProductID]
			if !ok {
				qty = item.RequestedQty
			}
			if qty < 0 {
				return t, fmt.Errorf("%w: negative sent quantity for %s", ErrInvalidTransition, item.ProductID)
			}
			item.SentQty = qty
		case ActionReceive:
			qty, ok := quantities[item.ProductID]
			if !ok {
				qty = item.SentQty
			}
			if qty < 0 || qty > item.SentQty {
				return t, fmt.Errorf("%w: received quantity for %s must be between 0 and %d", ErrInvalidTransition, item.ProductID, item.SentQty)
			}
			item.ReceivedQty = qty
		}
		out.Items[idx] = item
	}
	out.Status = next
	out.History = append(slices.Clone(t.History), domain.TransferHistoryEntry{
		Status: next,
		At:     at,
		UserID: actor.Username,
	})
	return out, nil
}

// New builds a transfer in its initial status.
func New(id string, origin string, destination string, items []domain.TransferItemRequest, actor domain.Actor, at time.Time) (domain.Transfer, error) {
	if origin == "" || destination == "" || origin == destination {
		return domain.Transfer{}, fmt.Errorf("%w: origin and destination must differ", ErrInvalidTransition)
	}
	if len(items) == 0 {
		return domain.Transfer{}, fmt.Errorf("%w: transfer has no items", ErrInvalidTransition)
	}

	merged := make([]domain.TransferItem, 0, len(items))
	for _, req := range items {
		if req.Quantity <= 0 {
			return domain.Transfer{}, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidTransition, req.ProductID)
		}
		idx := slices.IndexFunc(merged, func(it domain.TransferItem) bool { return it.ProductID == req.ProductID })
		if idx >= 0 {
			merged[idx].RequestedQty += req.Quantity
			continue
		}
		merged = append(merged, domain.TransferItem{ProductID: req.ProductID, RequestedQty: req.Quantity})
	}

	return domain.Transfer{
		ID:                    id,
		OriginLocationID:      origin,
		DestinationLocationID: destination,
		RequestedBy:           actor.Username,
		Status:                domain.TransferRequested,
		Items:                 merged,
		History:               []domain.TransferHistoryEntry{{Status: domain.TransferRequested, At: at, UserID: actor.Username}},
		CreatedAt:             at,
	}, nil
}

// ReceivedBatches splits a received quantity over the shipped allocations in
// their FEFO order so the new batches keep cost and expiration. Quantity not
// covered by any allocation becomes one undated batch at fallbackCost.
func ReceivedBatches(item domain.TransferItem, locationID string, fallbackCost int64, at time.Time) []domain.InventoryBatch {
	remaining := item.ReceivedQty
	batches := make([]domain.InventoryBatch, 0, len(item.Shipped)+1)
	for _, allocation := range item.Shipped {
		if remaining <= 0 {
			break
		}
		take := min(remaining, allocation.Quantity)
		if take <= 0 {
			continue
		}
		var exp *time.Time
		if allocation.ExpirationDate != nil {
			e := *allocation.ExpirationDate
			exp = &e
		}
		batches = append(batches, domain.InventoryBatch{
			ProductID:      item.ProductID,
			LocationID:     locationID,
			Quantity:       take,
			CostCents:      allocation.CostCents,
			ExpirationDate: exp,
			CreatedAt:      at,
		})
		remaining -= take
	}
	if remaining > 0 {
		batches = append(batches, domain.InventoryBatch{
			ProductID:  item.ProductID,
			LocationID: locationID,
			Quantity:   remaining,
			CostCents:  fallbackCost,
			CreatedAt:  at,
		})
	}
	return batches
}

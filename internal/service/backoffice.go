package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/ledger"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

func (s *Service) ListClients(ctx context.Context, storeID string) ([]domain.Client, error) {
	return s.repo.ListClients(ctx, defaultString(storeID, s.defaultStoreID))
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Client{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Client{}, err
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		ID:        xid.New("client"),
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		StoreID:   defaultString(req.StoreID, s.defaultStoreID),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Client{}, err
	}
	s.logAudit(ctx, created.StoreID, "client_create", "client", created.ID, "name="+created.Name)
	return *created, nil
}

// ChangeCredit grants credit, records a payment or liquidates the balance of
// a client. Liquidation needs the manager PIN.
func (s *Service) ChangeCredit(ctx context.Context, clientID string, kind domain.CreditChangeKind, req domain.CreditRequest) (domain.Client, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Client{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Client{}, err
	}

	switch kind {
	case domain.CreditGrant, domain.CreditPayment:
		if req.AmountCents <= 0 {
			return domain.Client{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidInput)
		}
	case domain.CreditLiquidate:
		if s.pin == nil || !s.pin.ValidateManagerPIN(req.ManagerPIN) {
			return domain.Client{}, ErrInvalidPIN
		}
		req.AmountCents = 0
	default:
		return domain.Client{}, fmt.Errorf("%w: unknown credit change %q", store.ErrInvalidInput, kind)
	}

	client, err := s.repo.ApplyCreditChange(ctx, clientID, domain.CreditChange{Kind: kind, AmountCents: req.AmountCents})
	if err != nil {
		return domain.Client{}, err
	}
	s.logAudit(ctx, client.StoreID, "credit_"+string(kind), "client", client.ID, fmt.Sprintf("amount=%d,balance=%d", req.AmountCents, client.CreditBalanceCents))
	return *client, nil
}

// CloseCash closes the actor's open sales. The final cash is the initial
// cash plus the cash part of those sales.
func (s *Service) CloseCash(ctx context.Context, req domain.CashClosingRequest) (domain.CashClosing, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return domain.CashClosing{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.CashClosing{}, err
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CashierID: actor.Username, OpenOnly: true})
	if err != nil {
		return domain.CashClosing{}, err
	}

	closing := domain.CashClosing{
		ID:               xid.New("closing"),
		CashierID:        actor.Username,
		StoreID:          s.defaultStoreID,
		LocationID:       actor.LocationID,
		InitialCashCents: req.InitialCashCents,
		SaleIDs:          make([]string, 0, len(sales)),
		ClosedAt:         s.now(),
	}
	for _, sale := range sales {
		closing.TotalSalesCents += sale.TotalCents
		closing.CashSalesCents += sale.Payment.CashCents
		closing.CardSalesCents += sale.Payment.CardCents
		closing.SaleIDs = append(closing.SaleIDs, sale.ID)
	}
	closing.FinalCashCents = closing.InitialCashCents + closing.CashSalesCents

	created, err := s.repo.CreateCashClosing(ctx, closing)
	if err != nil {
		return domain.CashClosing{}, err
	}
	s.logAudit(ctx, created.StoreID, "cash_closing", "cash_closing", created.ID, fmt.Sprintf("sales=%d,final_cash=%d", len(created.SaleIDs), created.FinalCashCents))
	return *created, nil
}

func (s *Service) ListCashClosings(ctx context.Context, limit int) ([]domain.CashClosing, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return nil, err
	}
	cashierID := actor.Username
	if actor.Role == domain.RoleAdmin || actor.Role == domain.RoleManager {
		cashierID = ""
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListCashClosings(ctx, cashierID, limit)
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Expense{}, err
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		ID:          xid.New("expense"),
		StoreID:     defaultString(req.StoreID, s.defaultStoreID),
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		AmountCents: req.AmountCents,
		RecordedBy:  actor.Username,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.Expense{}, err
	}
	s.logAudit(ctx, created.StoreID, "expense_create", "expense", created.ID, fmt.Sprintf("amount=%d", created.AmountCents))
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, storeID string, fromDate string, toDate string) ([]domain.Expense, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, defaultString(storeID, s.defaultStoreID), from, to)
}

// SalesReport sums the sales and expenses between two dates, both inclusive.
func (s *Service) SalesReport(ctx context.Context, locationID string, fromDate string, toDate string) (domain.SalesReport, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SalesReport{}, err
	}
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return domain.SalesReport{}, err
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{LocationID: locationID, From: from, To: to})
	if err != nil {
		return domain.SalesReport{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, s.defaultStoreID, from, to)
	if err != nil {
		return domain.SalesReport{}, err
	}

	report := domain.SalesReport{From: from, To: to, LocationID: locationID}
	for _, sale := range sales {
		report.Sales++
		report.GrossCents += sale.SubtotalCents
		report.DiscountCents += sale.DiscountCents
		report.CommissionCents += sale.CommissionCents
		report.NetCents += sale.TotalCents
		report.CashCents += sale.Payment.CashCents
		report.CardCents += sale.Payment.CardCents
	}
	for _, expense := range expenses {
		report.ExpensesCents += expense.AmountCents
	}
	return report, nil
}

// Alerts reports low stock and batches close to expiry. It reads the remote
// batches and falls back to the cached ledger.
func (s *Service) Alerts(ctx context.Context, locationID string) ([]domain.Alert, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.ListBatches(ctx, domain.BatchFilter{LocationID: locationID})
	if err != nil {
		return nil, err
	}
	return s.alerts.Evaluate(ctx, locationID, products, ledger.New(batches), s.now()), nil
}

// dateRange turns two inclusive YYYY-MM-DD dates into a half-open range.
// Missing dates default to today.
func (s *Service) dateRange(fromDate string, toDate string) (time.Time, time.Time, error) {
	today := s.now().Truncate(24 * time.Hour)
	from, err := parseDate(fromDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(toDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from == nil {
		from = &today
	}
	if to == nil {
		to = from
	}
	end := to.Add(24 * time.Hour)
	if !end.After(*from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: date range is empty", store.ErrInvalidInput)
	}
	return *from, end, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"tiendapos/backend/internal/alerts"
	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/inventory"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

var (
	ErrForbidden  = errors.New("role not allowed")
	ErrInvalidPIN = errors.New("invalid manager PIN")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Catalog is the terminal-side copy of the catalog that back-office changes
// are mirrored into.
type Catalog interface {
	Products() []domain.Product
	PutProduct(ctx context.Context, product domain.Product)
	DropProduct(ctx context.Context, productID string) error
}

type PINVerifier interface {
	ValidateManagerPIN(pin string) bool
}

type Options struct {
	DefaultStoreID string
	Cache          cache.Cache
	CacheTTL       time.Duration
	Stock          *inventory.Cache
	Catalog        Catalog
	Alerts         *alerts.Engine
	PIN            PINVerifier
	Logger         *slog.Logger
}

type Service struct {
	repo           store.Repository
	cache          cache.Cache
	cacheTTL       time.Duration
	stock          *inventory.Cache
	catalog        Catalog
	alerts         *alerts.Engine
	pin            PINVerifier
	validate       *validator.Validate
	logger         *slog.Logger
	defaultStoreID string
	now            func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stock == nil {
		opts.Stock = inventory.NewCache(nil, opts.Logger)
	}
	if opts.Alerts == nil {
		opts.Alerts = alerts.NewEngine(opts.Cache, opts.CacheTTL, alerts.DefaultExpiryAlertDays, opts.Logger)
	}

	return &Service{
		repo:           repo,
		cache:          opts.Cache,
		cacheTTL:       opts.CacheTTL,
		stock:          opts.Stock,
		catalog:        opts.Catalog,
		alerts:         opts.Alerts,
		pin:            opts.PIN,
		validate:       validator.New(),
		logger:         opts.Logger.With("component", "service"),
		defaultStoreID: opts.DefaultStoreID,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// requireRole returns the actor of ctx when its role is one of roles.
func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no actor", ErrForbidden)
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return actor, fmt.Errorf("%w: %s", ErrForbidden, actor.Role)
	}
	return actor, nil
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log", "action", action, "entity", entityType+"/"+entityID, "error", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		from = *parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// parseDate reads a YYYY-MM-DD date. An empty string yields nil.
func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", store.ErrInvalidInput, raw)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

package service

import (
	"context"
	"fmt"
	"strings"

	"tiendapos/backend/internal/domain"
	"tiendapos/backend/internal/store"
	"tiendapos/backend/internal/xid"
)

const productsCacheKey = "pos:catalog:products"

// ListProducts serves the catalog from the cache, then the remote store, and
// falls back to the terminal's copy when the remote store is unreachable.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var cached []domain.Product
	if ok, err := s.cache.Get(ctx, productsCacheKey, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("catalog cache read failed", "error", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		if s.catalog != nil {
			s.logger.Warn("serving catalog from local copy", "error", err)
			return s.catalog.Products(), nil
		}
		return nil, err
	}
	if err := s.cache.Set(ctx, productsCacheKey, products, s.cacheTTL); err != nil {
		s.logger.Warn("catalog cache write failed", "error", err)
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}
	expiration, err := parseDate(req.InitialExpiration)
	if err != nil {
		return domain.Product{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}

	product := domain.Product{
		ID:                  xid.New("prod"),
		Name:                strings.TrimSpace(req.Name),
		PriceCents:          req.PriceCents,
		WholesalePriceCents: req.WholesalePriceCents,
		CostCents:           req.CostCents,
		Unit:                defaultString(req.Unit, "unidad"),
		CategoryID:          req.CategoryID,
		SubcategoryID:       req.SubcategoryID,
		Barcodes:            normalizeBarcodes(req.Barcodes),
		StoreID:             req.StoreID,
		ImageRef:            req.ImageRef,
		MinStockThreshold:   req.MinStockThreshold,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	if req.InitialStock > 0 {
		location := defaultString(req.InitialLocationID, actor.LocationID)
		if location == "" {
			return domain.Product{}, fmt.Errorf("%w: initial stock needs a location", store.ErrInvalidInput)
		}
		if _, err := s.createBatch(ctx, domain.InventoryBatch{
			ProductID:      created.ID,
			LocationID:     location,
			Quantity:       req.InitialStock,
			CostCents:      created.CostCents,
			ExpirationDate: expiration,
		}); err != nil {
			return domain.Product{}, err
		}
	}

	s.productChanged(ctx, *created)
	s.logAudit(ctx, req.StoreID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, req.InitialStock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Product{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name required", store.ErrInvalidInput)
		}
		updated.Name = name
	}
	if req.PriceCents != nil {
		updated.PriceCents = *req.PriceCents
	}
	if req.WholesalePriceCents != nil {
		updated.WholesalePriceCents = *req.WholesalePriceCents
	}
	if req.CostCents != nil {
		updated.CostCents = *req.CostCents
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.CategoryID != nil {
		updated.CategoryID = *req.CategoryID
	}
	if req.SubcategoryID != nil {
		updated.SubcategoryID = *req.SubcategoryID
	}
	if req.Barcodes != nil {
		updated.Barcodes = normalizeBarcodes(req.Barcodes)
	}
	if req.ImageRef != nil {
		updated.ImageRef = *req.ImageRef
	}
	if req.MinStockThreshold != nil {
		updated.MinStockThreshold = req.MinStockThreshold
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.productChanged(ctx, *saved)
	s.logAudit(ctx, saved.StoreID, "product_update", "product", saved.ID, fmt.Sprintf("price=%d->%d", existing.PriceCents, saved.PriceCents))
	return *saved, nil
}

// DeleteProduct removes the product's batches first, then the product, both
// remotely and from the terminal's cache.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return err
	}

	removed, err := s.repo.DeleteBatchesByProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("delete batches of %s: %w", id, err)
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}

	if s.catalog != nil {
		if err := s.catalog.DropProduct(ctx, id); err != nil {
			s.logger.Warn("failed to drop product from terminal", "product_id", id, "error", err)
		}
	} else if err := s.stock.RemoveProduct(ctx, id); err != nil {
		s.logger.Warn("failed to drop product stock", "product_id", id, "error", err)
	}
	s.invalidateCatalog(ctx)
	s.logAudit(ctx, existing.StoreID, "product_delete", "product", id, fmt.Sprintf("name=%s,batches=%d", existing.Name, removed))
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryCreateRequest) (domain.Category, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Category{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Category{}, err
	}

	created, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:       xid.New("cat"),
		Name:     strings.TrimSpace(req.Name),
		ParentID: strings.TrimSpace(req.ParentID),
	})
	if err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "", "category_create", "category", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) productChanged(ctx context.Context, product domain.Product) {
	if s.catalog != nil {
		s.catalog.PutProduct(ctx, product)
	}
	s.invalidateCatalog(ctx)
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.cache.Delete(ctx, productsCacheKey); err != nil {
		s.logger.Warn("catalog cache invalidation failed", "error", err)
	}
}

func normalizeBarcodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

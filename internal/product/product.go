package product

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iurnickita/ifgmart/internal/model"
	"github.com/iurnickita/ifgmart/internal/store"
)

type Product interface {
	Get(ctx context.Context, id string) (model.Product, error)
	ListActive(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	ListAll(ctx context.Context, status string) ([]model.Product, error)
	ListOwnedBy(ctx context.Context, owner string) ([]model.Product, error)
	Create(ctx context.Context, owner string, fields model.ProductFields) (model.Product, error)
	Update(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error)
	Delete(ctx context.Context, owner string, id string) error
	MarkSold(ctx context.Context, id string) error
}

type product struct {
	store store.Store
}

func NewProduct(store store.Store) Product {
	return &product{store: store}
}

func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNoRows):
		return model.ErrNotFound
	case errors.Is(err, store.ErrForbidden):
		return model.ErrForbidden
	case errors.Is(err, store.ErrConflict):
		return model.ErrConflict
	default:
		return fmt.Errorf("%w: %w", model.ErrStore, err)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{model.ErrValidation}, args...)...)
}

func withSellerName(products []model.Product) []model.Product {
	for i := range products {
		if products[i].Data.OwnerName == "" {
			products[i].Data.OwnerName = model.UnknownSellerName
		}
	}
	return products
}

func (p *product) Get(ctx context.Context, id string) (model.Product, error) {
	if id == "" {
		return model.Product{}, model.ErrNotFound
	}
	row, err := p.store.ProductGet(ctx, id)
	if err != nil {
		return model.Product{}, storeErr(err)
	}
	return withSellerName([]model.Product{row})[0], nil
}

// ListActive - витрина: активные товары, новые сверху
func (p *product) ListActive(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	filter.Status = model.ProductStatusActive
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Category == "all" {
		filter.Category = ""
	}
	products, err := p.store.ProductList(ctx, filter)
	if err != nil {
		return nil, storeErr(err)
	}
	return withSellerName(products), nil
}

func (p *product) ListAll(ctx context.Context, status string) ([]model.Product, error) {
	if status != "" && !validStatus(status) {
		return nil, invalid("unknown status %q", status)
	}
	products, err := p.store.ProductList(ctx, model.ProductFilter{Status: status})
	if err != nil {
		return nil, storeErr(err)
	}
	return withSellerName(products), nil
}

func (p *product) ListOwnedBy(ctx context.Context, owner string) ([]model.Product, error) {
	if owner == "" {
		return nil, model.ErrNotAuthenticated
	}
	products, err := p.store.ProductListByOwner(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	return withSellerName(products), nil
}

func validStatus(status string) bool {
	switch status {
	case model.ProductStatusActive, model.ProductStatusSold, model.ProductStatusInactive:
		return true
	}
	return false
}

func validLink(link string) bool {
	if link == "" {
		return true
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validate проверяет переданные поля. full - все обязательные поля должны быть заданы
func validate(fields model.ProductFields, full bool) error {
	if full || fields.Title != nil {
		if fields.Title == nil || strings.TrimSpace(*fields.Title) == "" {
			return invalid("title is required")
		}
	}
	if full || fields.Description != nil {
		if fields.Description == nil || strings.TrimSpace(*fields.Description) == "" {
			return invalid("description is required")
		}
	}
	if full || fields.Price != nil {
		if fields.Price == nil || *fields.Price <= 0 {
			return invalid("price must be positive")
		}
	}
	if full || fields.Category != nil {
		if fields.Category == nil || *fields.Category == "" {
			return invalid("category is required")
		}
		if !slices.Contains(model.ProductCategories, *fields.Category) {
			return invalid("unknown category %q", *fields.Category)
		}
	}
	if fields.ImageURL != nil && !validLink(*fields.ImageURL) {
		return invalid("image url is not a valid http(s) url")
	}
	if fields.ProductLink != nil && !validLink(*fields.ProductLink) {
		return invalid("product link is not a valid http(s) url")
	}
	return nil
}

func valueOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (p *product) Create(ctx context.Context, owner string, fields model.ProductFields) (model.Product, error) {
	if owner == "" {
		return model.Product{}, model.ErrNotAuthenticated
	}
	if err := validate(fields, true); err != nil {
		return model.Product{}, err
	}
	if fields.Status != nil {
		return model.Product{}, invalid("status is set by the marketplace")
	}

	now := time.Now().UTC()
	var newProduct model.Product
	newProduct.ID = uuid.NewString()
	newProduct.Data.Owner = owner
	newProduct.Data.Title = strings.TrimSpace(*fields.Title)
	newProduct.Data.Description = strings.TrimSpace(*fields.Description)
	newProduct.Data.Price = *fields.Price
	newProduct.Data.Category = *fields.Category
	newProduct.Data.ImageURL = valueOr(fields.ImageURL)
	newProduct.Data.ProductLink = valueOr(fields.ProductLink)
	newProduct.Data.Status = model.ProductStatusActive
	newProduct.Data.CreatedAt = now
	newProduct.Data.UpdatedAt = now

	if err := p.store.ProductPost(ctx, newProduct); err != nil {
		return model.Product{}, storeErr(err)
	}
	return p.Get(ctx, newProduct.ID)
}

// Update перезаписывает переданные поля. Владелец проверяется хранилищем
func (p *product) Update(ctx context.Context, owner string, id string, fields model.ProductFields) (model.Product, error) {
	if owner == "" {
		return model.Product{}, model.ErrNotAuthenticated
	}
	if err := validate(fields, false); err != nil {
		return model.Product{}, err
	}
	if fields.Title != nil {
		trimmed := strings.TrimSpace(*fields.Title)
		fields.Title = &trimmed
	}

	// владелец может только снять товар с продажи или вернуть его
	if fields.Status != nil && *fields.Status != model.ProductStatusActive && *fields.Status != model.ProductStatusInactive {
		return model.Product{}, invalid("status can only be set to active or inactive")
	}

	// статус проданного товара хранилище не меняет
	row, err := p.store.ProductPut(ctx, owner, id, fields)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.Product{}, invalid("sold product status cannot be changed")
		}
		return model.Product{}, storeErr(err)
	}
	return withSellerName([]model.Product{row})[0], nil
}

func (p *product) Delete(ctx context.Context, owner string, id string) error {
	if owner == "" {
		return model.ErrNotAuthenticated
	}
	if err := p.store.ProductDelete(ctx, owner, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// MarkSold переводит товар active -> sold. Проданный или снятый товар - ErrProductUnavailable
func (p *product) MarkSold(ctx context.Context, id string) error {
	err := p.store.ProductSwapStatus(ctx, id, model.ProductStatusActive, model.ProductStatusSold)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.ErrProductUnavailable
		}
		return storeErr(err)
	}
	return nil
}

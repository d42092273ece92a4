package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"frostmart/internal/models"

	"github.com/google/uuid"
)

// MockProductRepository is an in-memory implementation of ProductRepository.
type MockProductRepository struct {
	products map[string]models.Product
	mu       sync.RWMutex
}

// NewMockProductRepository creates a new instance of MockProductRepository.
func NewMockProductRepository() *MockProductRepository {
	return &MockProductRepository{
		products: make(map[string]models.Product),
	}
}

// GetAll returns all products ordered by name.
func (r *MockProductRepository) GetAll(_ context.Context) ([]models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	productList := make([]models.Product, 0, len(r.products))
	for _, p := range r.products {
		productList = append(productList, p)
	}
	sort.Slice(productList, func(i, j int) bool { return productList[i].Name < productList[j].Name })
	return productList, nil
}

// GetByID returns a product by its ID.
func (r *MockProductRepository) GetByID(_ context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %s: %w", id, models.ErrProductNotFound)
	}
	return &product, nil
}

// Create adds a new product.
func (r *MockProductRepository) Create(_ context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	r.products[product.ID] = *product
	return nil
}

// DecrementStock takes qty units if available.
func (r *MockProductRepository) DecrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, models.ErrProductNotFound)
	}
	if product.Stock < qty {
		return fmt.Errorf("product %s: %w", id, models.ErrInsufficientStock)
	}
	product.Stock -= qty
	r.products[id] = product
	return nil
}

// IncrementStock returns qty units to stock.
func (r *MockProductRepository) IncrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.products[id]
	if !ok {
		return fmt.Errorf("product with ID %s: %w", id, models.ErrProductNotFound)
	}
	product.Stock += qty
	r.products[id] = product
	return nil
}

// MockCouponRepository is an in-memory implementation of CouponRepository.
type MockCouponRepository struct {
	coupons map[string]models.Coupon
	mu      sync.RWMutex
}

// NewMockCouponRepository creates a new instance of MockCouponRepository.
func NewMockCouponRepository() *MockCouponRepository {
	return &MockCouponRepository{coupons: make(map[string]models.Coupon)}
}

// GetByCode returns a coupon by its case-insensitive code.
func (r *MockCouponRepository) GetByCode(_ context.Context, code string) (*models.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, models.ErrInvalidCoupon)
	}
	return &coupon, nil
}

// Create stores a coupon under its upper-cased code.
func (r *MockCouponRepository) Create(_ context.Context, coupon *models.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon.Code = strings.ToUpper(coupon.Code)
	if _, exists := r.coupons[coupon.Code]; exists {
		return models.ErrConflictData
	}
	r.coupons[coupon.Code] = *coupon
	return nil
}

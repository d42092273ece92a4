package services

import (
	"context"
	"fmt"

	"frostmart/internal/models"
	"frostmart/internal/repositories"
)

// ProductService handles catalog reads and seeding.
type ProductService struct {
	repo repositories.ProductRepository
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository) *ProductService {
	return &ProductService{
		repo: repo,
	}
}

// GetAllProducts retrieves all products.
func (s *ProductService) GetAllProducts(ctx context.Context) ([]models.Product, error) {
	return s.repo.GetAll(ctx)
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateProduct adds a product to the catalog.
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) error {
	if product.Price.IsNegative() {
		return fmt.Errorf("%w: price of %s is negative", models.ErrInvalidOrder, product.Name)
	}
	return s.repo.Create(ctx, product)
}

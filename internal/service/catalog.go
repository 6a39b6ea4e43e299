package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/repository"
)

// ProductService manages the user's product catalog.
type ProductService struct {
	products *repository.ProductRepository
}

// NewProductService creates a new ProductService.
func NewProductService(products *repository.ProductRepository) *ProductService {
	return &ProductService{products: products}
}

// Create stores a new product for the user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - name: product name.
//   - salesURL: product sales page URL.
//   - details: optional extracted sales-page attributes.
// Returns:
//   - *domain.Product: the created product.
//   - error: ErrInvalidInput or store errors.
func (s *ProductService) Create(ctx context.Context, userID, name, salesURL string, details domain.JSONMap) (*domain.Product, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	if name == "" {
		return nil, invalidInput("product name is required")
	}
	now := time.Now().UTC()
	product := &domain.Product{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        name,
		SalesURL:    salesURL,
		DetailsJSON: details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// List returns the user's products.
func (s *ProductService) List(ctx context.Context, userID string) ([]domain.Product, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	return s.products.ListByUser(ctx, userID)
}

// Get returns a single product owned by the user.
func (s *ProductService) Get(ctx context.Context, userID, id string) (*domain.Product, error) {
	product, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("product %s", id)
		}
		return nil, err
	}
	if product.UserID != userID {
		return nil, ErrForbidden
	}
	return product, nil
}

// WorkflowService manages scraped-ad workflows, the source material for
// concept submission.
type WorkflowService struct {
	workflows *repository.WorkflowRepository
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(workflows *repository.WorkflowRepository) *WorkflowService {
	return &WorkflowService{workflows: workflows}
}

// Create stores a scraping run's result set for the user.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user.
//   - name: display name for the run.
//   - ads: scraped ad entries; each needs at least an ad_archive_id.
// Returns:
//   - *domain.Workflow: the created workflow.
//   - error: ErrInvalidInput or store errors.
func (s *WorkflowService) Create(ctx context.Context, userID, name string, ads domain.JSONArray) (*domain.Workflow, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	if len(ads) == 0 {
		return nil, invalidInput("at least one scraped ad is required")
	}
	now := time.Now().UTC()
	workflow := &domain.Workflow{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		AdsJSON:   ads,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.workflows.Create(ctx, workflow); err != nil {
		return nil, err
	}
	return workflow, nil
}

// List returns the user's workflows, newest first.
func (s *WorkflowService) List(ctx context.Context, userID string) ([]domain.Workflow, error) {
	if userID == "" {
		return nil, invalidInput("user id is required")
	}
	return s.workflows.ListByUser(ctx, userID)
}

// Get returns a single workflow owned by the user.
func (s *WorkflowService) Get(ctx context.Context, userID, id string) (*domain.Workflow, error) {
	workflow, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("workflow %s", id)
		}
		return nil, err
	}
	if workflow.UserID != userID {
		return nil, ErrForbidden
	}
	return workflow, nil
}

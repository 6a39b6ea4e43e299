package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/adforge/internal/api/middleware"
	"github.com/timmy/adforge/internal/domain"
	"github.com/timmy/adforge/internal/service"
)

// ProductHandler handles product catalog endpoints.
type ProductHandler struct {
	products *service.ProductService
}

// NewProductHandler creates a new product handler.
func NewProductHandler(products *service.ProductService) *ProductHandler {
	return &ProductHandler{products: products}
}

type createProductRequest struct {
	Name        string         `json:"name" binding:"required"`
	SalesURL    string         `json:"sales_url"`
	DetailsJSON domain.JSONMap `json:"details_json"`
}

// CreateProduct handles POST /api/v1/products.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	product, err := h.products.Create(c.Request.Context(), middleware.CurrentUser(c), req.Name, req.SalesURL, req.DetailsJSON)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

// ListProducts handles GET /api/v1/products.
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.products.List(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// GetProduct handles GET /api/v1/products/:id.
func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.products.Get(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

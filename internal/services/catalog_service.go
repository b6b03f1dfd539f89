package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/lojacraft/backend/internal/models"
)

// CatalogService serves the public product listing.
type CatalogService struct {
	db *sql.DB
}

func NewCatalogService(db *sql.DB) *CatalogService {
	return &CatalogService{db: db}
}

// ListProducts lists active products.
// @Summary List products
// @Description List all active store products
// @Tags catalog
// @Produce json
// @Success 200 {object} object{products=[]models.Product,count=int}
// @Failure 500 {object} services.ErrorResponse
// @Router /products [get]
func (s *CatalogService) ListProducts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(`
		SELECT id, name, description, product_type, price, stock, payload, active, created_at
		FROM products WHERE active = TRUE ORDER BY price ASC
	`)
	if err != nil {
		log.Printf("[CATALOG] Failed to list products: %v", err)
		SendErrorResponse(w, "Failed to list products", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		var p models.Product
		var payload []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Type, &p.Price,
			&p.Stock, &payload, &p.Active, &p.CreatedAt); err != nil {
			log.Printf("[CATALOG] Failed to scan product: %v", err)
			SendErrorResponse(w, "Failed to list products", http.StatusInternalServerError, nil)
			return
		}
		p.Payload = payload
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to list products", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	json.NewEncoder(w).Encode(map[string]any{
		"products": products,
		"count":    len(products),
	})
}

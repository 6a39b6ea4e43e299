package domain

import "time"

// Product is the thing an ad recipe advertises. Created by direct user form
// submission or by an external sales-page extraction; read-only to the
// orchestration core.
type Product struct {
	ID          string  `gorm:"type:text;primaryKey" json:"id"`
	UserID      string  `gorm:"type:text;not null;index" json:"user_id"`
	Name        string  `gorm:"type:text;not null" json:"name"`
	SalesURL    string  `gorm:"type:text" json:"sales_url"`
	DetailsJSON JSONMap `gorm:"type:text" json:"details_json"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

package domain

import "time"

// AdRecipe pairs completed concepts with a product into a prompt package for
// downstream image generation. Created only after every referenced concept is
// completed; the generation task's terminal event flips status once, after
// which the row is immutable to this subsystem.
type AdRecipe struct {
	ID           string      `gorm:"type:text;primaryKey" json:"id"`
	UserID       string      `gorm:"type:text;not null;index" json:"user_id"`
	Name         string      `gorm:"type:text;not null" json:"name"`
	ConceptIDs   StringArray `gorm:"type:text" json:"concept_ids"`
	ProductID    string      `gorm:"type:text;not null;index" json:"product_id"`
	TaskID       string      `gorm:"type:text;index:idx_ad_recipes_task" json:"task_id"`
	Status       Status      `gorm:"type:text;index;default:pending" json:"status"`
	PromptJSON   JSONMap     `gorm:"type:text" json:"prompt_json"`
	ErrorMessage string      `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName returns the database table name for AdRecipe.
func (AdRecipe) TableName() string {
	return "ad_recipes"
}

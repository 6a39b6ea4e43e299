package domain

import "time"

// AdConcept is the structured creative description extracted from a scraped
// competitor ad. A row is created pending at job submission time so the UI has
// something to reference, then mutated exactly once more when the task reaches
// a terminal state. Rows are never deleted by this subsystem.
type AdConcept struct {
	ID           string  `gorm:"type:text;primaryKey" json:"id"`
	UserID       string  `gorm:"type:text;not null;index" json:"user_id"`
	AdArchiveID  string  `gorm:"type:text;not null;index:idx_ad_concepts_archive" json:"ad_archive_id"`
	ImageURL     string  `gorm:"type:text" json:"image_url,omitempty"`
	TaskID       string  `gorm:"type:text;index:idx_ad_concepts_task" json:"task_id"`
	Status       Status  `gorm:"type:text;index;default:pending" json:"status"`
	ConceptJSON  JSONMap `gorm:"type:text" json:"concept_json"`
	ErrorMessage string  `gorm:"type:text" json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for AdConcept.
func (AdConcept) TableName() string {
	return "ad_concepts"
}

package domain

import "time"

// Status represents the lifecycle state shared by tasks, concepts, and recipes.
// Transitions are forward-only; completed and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
// Parameters: none.
// Returns:
//   - bool: true for completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// SubjectKind discriminates what a task produces.
type SubjectKind string

const (
	SubjectAdConcept SubjectKind = "ad_concept"
	SubjectAdRecipe  SubjectKind = "ad_recipe"
)

// Task records every job ever submitted to the external service by this
// backend, keyed externally by TaskID and locally by LocalID (the local row can
// precede task_id assignment). Exactly one of ResultPayload/ErrorMessage may be
// set, and only once Status is terminal.
type Task struct {
	LocalID     string      `gorm:"type:text;primaryKey" json:"local_id"`
	TaskID      string      `gorm:"type:text;uniqueIndex:idx_tasks_task_id" json:"task_id"`
	UserID      string      `gorm:"type:text;not null;index" json:"user_id"`
	SubjectKind SubjectKind `gorm:"type:text;not null" json:"subject_kind"`

	// Subject linkage. AdArchiveID is set for ad_concept tasks; ConceptIDs and
	// ProductID for ad_recipe tasks. EntityID points at the concept or recipe
	// row this task drives (a back-reference, never an owning reference).
	AdArchiveID string      `gorm:"type:text;index" json:"ad_archive_id,omitempty"`
	ConceptIDs  StringArray `gorm:"type:text" json:"concept_ids,omitempty"`
	ProductID   string      `gorm:"type:text" json:"product_id,omitempty"`
	EntityID    string      `gorm:"type:text;index" json:"entity_id"`

	Status        Status  `gorm:"type:text;index;default:pending" json:"status"`
	ResultPayload JSONMap `gorm:"type:text" json:"result_payload,omitempty"`
	ErrorMessage  string  `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Task.
func (Task) TableName() string {
	return "tasks"
}

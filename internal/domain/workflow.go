package domain

import (
	"encoding/json"
	"time"
)

// ScrapedAd is one competitor ad captured by a scraping run. Only the fields
// the orchestration core reads are modelled; the rest of the scraped payload
// stays inside the workflow's AdsJSON untouched.
type ScrapedAd struct {
	AdArchiveID string `json:"ad_archive_id"`
	ImageURL    string `json:"image_url"`
	PageName    string `json:"page_name,omitempty"`
	AdType      string `json:"ad_type,omitempty"`
}

// Workflow stores the result set of one competitor-ad scraping run for a user.
// Concept submission resolves ad ids to creative image URLs through the
// requesting user's workflows.
type Workflow struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	UserID    string    `gorm:"type:text;not null;index" json:"user_id"`
	Name      string    `gorm:"type:text" json:"name"`
	AdsJSON   JSONArray `gorm:"type:text" json:"ads_json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Workflow.
func (Workflow) TableName() string {
	return "workflows"
}

// FindAd looks up a scraped ad by archive id inside this workflow's result set.
// Parameters:
//   - adArchiveID: external ad archive identifier.
// Returns:
//   - *ScrapedAd: decoded ad entry if present.
//   - bool: true if found.
func (w *Workflow) FindAd(adArchiveID string) (*ScrapedAd, bool) {
	for _, item := range w.AdsJSON {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var ad ScrapedAd
		if err := json.Unmarshal(raw, &ad); err != nil {
			continue
		}
		if ad.AdArchiveID == adArchiveID {
			return &ad, true
		}
	}
	return nil, false
}

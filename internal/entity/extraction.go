package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
)

// CellPosition locates the menu-name cell on the rendered page.
type CellPosition struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
	Row    int `json:"row"`
	Col    int `json:"col"`
}

// Extraction is one menu row recovered from a page.
type Extraction struct {
	ID              uuid.UUID                              `json:"id"`
	JobID           uuid.UUID                              `json:"job_id"`
	PageNumber      int                                    `json:"page_number"`
	MenuName        string                                 `json:"menu_name"`
	Allergies       map[allergen.ID]constants.PresenceType `json:"allergies"`
	CellPosition    *CellPosition                          `json:"cell_position,omitempty"`
	ConfidenceScore float64                                `json:"confidence_score"`
	CreatedAt       time.Time                              `json:"created_at"`
}

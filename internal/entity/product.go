package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/allergy-extractor/constants"
)

// ProductMetadata is what a reviewer supplies when committing a draft.
type ProductMetadata struct {
	Name        string     `json:"name"`
	Brand       string     `json:"brand,omitempty"`
	Category    string     `json:"category,omitempty"`
	SourceJobID *uuid.UUID `json:"source_job_id,omitempty"`
}

// ReviewRow is one allergen line of a review draft.
type ReviewRow struct {
	AllergenID   string                 `json:"allergy_item_id"`
	PresenceType constants.PresenceType `json:"presence_type"`
	AmountLevel  constants.AmountLevel  `json:"amount_level"`
	Notes        string                 `json:"notes,omitempty"`
}

// Product is a committed product with its allergy rows.
type Product struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Brand       string      `json:"brand,omitempty"`
	Category    string      `json:"category,omitempty"`
	SourceJobID *uuid.UUID  `json:"source_job_id,omitempty"`
	Allergies   []ReviewRow `json:"allergies"`
	CreatedAt   time.Time   `json:"created_at"`
}

package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/allergy-extractor/constants"
	"github.com/joseph-ayodele/allergy-extractor/internal/allergen"
	"github.com/joseph-ayodele/allergy-extractor/internal/common"
	"github.com/joseph-ayodele/allergy-extractor/internal/entity"
)

// CommitRequest is the reviewed draft submitted for persistence.
type CommitRequest struct {
	Product entity.ProductMetadata `json:"product"`
	Rows    []entity.ReviewRow     `json:"rows"`
}

func reviewSchema() map[string]any {
	ids := make([]any, 0, 28)
	for _, id := range allergen.IDs() {
		ids = append(ids, string(id))
	}
	presence := make([]any, 0, 5)
	for _, p := range constants.PresenceTypesAsStrings() {
		presence = append(presence, p)
	}
	amounts := make([]any, 0, 5)
	for _, a := range constants.AmountLevelsAsStrings() {
		amounts = append(amounts, a)
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"product", "rows"},
		"properties": map[string]any{
			"product": map[string]any{
				"type":     "object",
				"required": []any{"name"},
				"properties": map[string]any{
					"name":          map[string]any{"type": "string", "minLength": 1, "maxLength": 200},
					"brand":         map[string]any{"type": "string", "maxLength": 200},
					"category":      map[string]any{"type": "string", "maxLength": 100},
					"source_job_id": map[string]any{"type": "string"},
				},
			},
			"rows": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"allergy_item_id", "presence_type", "amount_level"},
					"properties": map[string]any{
						"allergy_item_id": map[string]any{"enum": ids},
						"presence_type":   map[string]any{"enum": presence},
						"amount_level":    map[string]any{"enum": amounts},
						"notes":           map[string]any{"type": "string", "maxLength": 500},
					},
				},
			},
		},
	}
}

var compiledReviewSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(reviewSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("review.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("review.json")
})

// validateReviewPayload checks the raw JSON form of a commit against the review schema.
func validateReviewPayload(data []byte) error {
	schema, err := compiledReviewSchema()
	if err != nil {
		return fmt.Errorf("%w: compile review schema: %v", common.ErrInternal, err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return common.NewAppError("INVALID_INPUT", "payload is not JSON", common.ErrInvalidInput)
	}
	if err := schema.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		msg := err.Error()
		if errors.As(err, &ve) {
			msg = ve.Error()
		}
		return common.NewAppError("VALIDATION_FAILED", msg, common.ErrValidation)
	}
	return nil
}

// CommitReview validates a reviewed draft and stores the product with its allergy rows.
func (s *Service) CommitReview(ctx context.Context, meta entity.ProductMetadata, rows []entity.ReviewRow) (uuid.UUID, error) {
	rows = canonicalRows(rows)
	meta.Name = strings.TrimSpace(meta.Name)
	payload, err := json.Marshal(CommitRequest{Product: meta, Rows: rows})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	if err := validateReviewPayload(payload); err != nil {
		return uuid.Nil, err
	}

	v := common.NewValidator()
	v.Field("product.name", meta.Name, common.Required, common.MaxLen(200))
	seen := make(map[string]bool, len(rows))
	for i, r := range rows {
		field := fmt.Sprintf("rows[%d].allergy_item_id", i)
		v.Field(field, r.AllergenID, common.Required)
		if seen[r.AllergenID] {
			v.Field(field, r.AllergenID, duplicateRule)
		}
		seen[r.AllergenID] = true
		v.Field(fmt.Sprintf("rows[%d].presence_type", i), string(r.PresenceType), common.OneOf(constants.PresenceTypesAsStrings()...))
		v.Field(fmt.Sprintf("rows[%d].amount_level", i), string(r.AmountLevel), common.OneOf(constants.AmountLevelsAsStrings()...))
	}
	if err := common.ValidateAndReturnError(v); err != nil {
		return uuid.Nil, err
	}

	if meta.SourceJobID != nil {
		if _, err := s.jobs.Get(ctx, *meta.SourceJobID); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return uuid.Nil, common.NewAppError("INVALID_INPUT", "source job does not exist", common.ErrInvalidInput)
			}
			return uuid.Nil, err
		}
	}

	id, err := s.products.Commit(ctx, meta, rows)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("review committed", "product_id", id, "name", meta.Name, "rows", len(rows))
	return id, nil
}

// canonicalRows copies rows with reviewer labels such as "香料" or "processed" mapped to
// presence types. Unknown labels are left for validation to reject.
func canonicalRows(rows []entity.ReviewRow) []entity.ReviewRow {
	out := make([]entity.ReviewRow, len(rows))
	for i, r := range rows {
		if p, ok := constants.CanonicalizePresence(string(r.PresenceType)); ok {
			r.PresenceType = p
		}
		out[i] = r
	}
	return out
}

func duplicateRule(field string, value interface{}) *common.ValidationError {
	return &common.ValidationError{Field: field, Value: value, Message: "allergen listed more than once"}
}

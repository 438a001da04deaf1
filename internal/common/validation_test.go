package common

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidator_Rules(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		rules   []ValidationRule
		wantMsg string
	}{
		{name: "required ok", value: "ハンバーグ", rules: []ValidationRule{Required}},
		{name: "required blank", value: "  ", rules: []ValidationRule{Required}, wantMsg: "name must not be empty"},
		{name: "required nil", value: nil, rules: []ValidationRule{Required}, wantMsg: "name must not be empty"},
		{name: "max len counts runes", value: "卵乳小麦", rules: []ValidationRule{MaxLen(4)}},
		{name: "max len exceeded", value: "卵乳小麦えび", rules: []ValidationRule{MaxLen(4)}, wantMsg: "name is longer than 4 characters"},
		{name: "uuid ok", value: uuid.NewString(), rules: []ValidationRule{UUID}},
		{name: "uuid bad", value: "job-1", rules: []ValidationRule{UUID}, wantMsg: "name is not a valid id"},
		{name: "one of ok", value: "trace", rules: []ValidationRule{OneOf("direct", "trace")}},
		{name: "one of bad", value: "maybe", rules: []ValidationRule{OneOf("direct", "trace")}, wantMsg: `name "maybe" is not one of direct, trace`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAndReturnError(NewValidator().Field("name", tt.value, tt.rules...))
			if tt.wantMsg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var app *AppError
			if !errors.As(err, &app) || app.Message != tt.wantMsg {
				t.Errorf("message = %v, want %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidateAndReturnError_JoinsFailures(t *testing.T) {
	v := NewValidator().
		Field("product.name", "", Required).
		Field("rows[0].presence_type", "maybe", OneOf("direct"))
	err := ValidateAndReturnError(v)
	if err == nil || !strings.Contains(err.Error(), "product.name must not be empty; rows[0].presence_type") {
		t.Errorf("unexpected error: %v", err)
	}
}

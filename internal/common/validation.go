package common

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError is one rejected request field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// ValidationRule checks one field value and returns nil when it is acceptable.
type ValidationRule func(field string, value interface{}) *ValidationError

// Validator collects rule failures across the fields of one request.
type Validator struct {
	failed []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Field(field string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(field, value); err != nil {
			v.failed = append(v.failed, *err)
		}
	}
	return v
}

// ValidateAndReturnError reports every failure in one ErrValidation, in the order found.
func ValidateAndReturnError(v *Validator) error {
	if len(v.failed) == 0 {
		return nil
	}
	msgs := make([]string, len(v.failed))
	for i, f := range v.failed {
		msgs[i] = f.Error()
	}
	return NewAppError("VALIDATION_FAILED", strings.Join(msgs, "; "), ErrValidation)
}

// Required rejects nil and blank strings.
func Required(field string, value interface{}) *ValidationError {
	switch v := value.(type) {
	case nil:
	case string:
		if strings.TrimSpace(v) != "" {
			return nil
		}
	default:
		return nil
	}
	return &ValidationError{Field: field, Value: value, Message: "must not be empty"}
}

// MaxLen limits a string to n runes; product names are mostly Japanese.
func MaxLen(n int) ValidationRule {
	return func(field string, value interface{}) *ValidationError {
		s, _ := value.(string)
		if utf8.RuneCountInString(s) <= n {
			return nil
		}
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("is longer than %d characters", n)}
	}
}

// UUID accepts job and product ids.
func UUID(field string, value interface{}) *ValidationError {
	if s, ok := value.(string); ok {
		if _, err := uuid.Parse(s); err == nil {
			return nil
		}
	}
	return &ValidationError{Field: field, Value: value, Message: "is not a valid id"}
}

// OneOf accepts only the listed values, such as presence types or amount levels.
func OneOf(allowed ...string) ValidationRule {
	return func(field string, value interface{}) *ValidationError {
		s, _ := value.(string)
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Value: value, Message: fmt.Sprintf("%q is not one of %s", s, strings.Join(allowed, ", "))}
	}
}

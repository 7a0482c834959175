package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError represents a validation error for a specific config field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError is a collection of field errors
type MultiError []FieldError

func (m MultiError) Error() string {
	if len(m) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range m {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether a field failed validation
func (m MultiError) Has(field string) bool {
	for _, err := range m {
		if err.Field == field {
			return true
		}
	}
	return false
}

func toMultiError(validationErrs validator.ValidationErrors) MultiError {
	var fieldErrors MultiError

	for _, e := range validationErrs {
		// Namespace is Config.Build.Workers; drop the root type name
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		var message string
		switch e.Tag() {
		case "required":
			message = "is required"
		case "min":
			message = fmt.Sprintf("must be at least %s", e.Param())
		case "max":
			message = fmt.Sprintf("must be at most %s", e.Param())
		case "oneof":
			message = fmt.Sprintf("must be one of: %s", e.Param())
		case "htmltag":
			message = fmt.Sprintf("%q is not a valid tag name", e.Value())
		case "customelement":
			message = fmt.Sprintf("%q is not a valid custom element name (needs a hyphen)", e.Value())
		case "nefield":
			message = fmt.Sprintf("must differ from %s", e.Param())
		case "hostname_port":
			message = fmt.Sprintf("%q is not a host:port address", e.Value())
		default:
			message = "is invalid"
		}

		fieldErrors = append(fieldErrors, FieldError{
			Field:   field,
			Message: message,
		})
	}

	return fieldErrors
}

package inventory

import (
	"errors"
	"reflect"
	"strings"

	"github.com/clinic/backend/internal/domain/inventory"
	"github.com/go-playground/validator/v10"
)

// newValidator returns a validator that reports JSON field names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs struct validation and converts the first failure into
// an inventory.ValidationError.
func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return &inventory.ValidationError{Field: fe.Field(), Reason: validationMessage(fe)}
	}
	return &inventory.ValidationError{Field: "request", Reason: err.Error()}
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.String {
			return "must be at least " + e.Param() + " characters"
		}
		return "must be at least " + e.Param()
	case "max":
		if e.Kind() == reflect.String {
			return "must be at most " + e.Param() + " characters"
		}
		return "must be at most " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	default:
		return "is invalid"
	}
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return &inventory.ValidationError{Field: "actor", Reason: "is required"}
	}
	return nil
}

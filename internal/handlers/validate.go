package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks struct tags and reports the first failure in
// terms of the JSON field name.
func validateRequest(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return fmt.Errorf("invalid request: %w", err)
	}

	first := validationErrors[0]
	field := first.Field()
	switch first.Tag() {
	case "required":
		return fmt.Errorf("field '%s' is required", field)
	case "email":
		return fmt.Errorf("field '%s' must be a valid email address", field)
	case "min":
		return fmt.Errorf("field '%s' must be at least %s characters long", field, first.Param())
	case "max":
		return fmt.Errorf("field '%s' must be at most %s characters long", field, first.Param())
	case "eqfield":
		return errors.New("passwords must match")
	default:
		return fmt.Errorf("field '%s' is invalid", field)
	}
}

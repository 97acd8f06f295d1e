package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/wms-platform/shipment-service/pkg/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Messages overrides the generated message of a rule, keyed by
// "<jsonField>.<tag>", e.g. "fileName.required".
type Messages map[string]string

// Get returns the shared validator, reporting fields by their JSON names.
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		Configure(validate)
	})
	return validate
}

// Configure applies the service's conventions to v. It is also applied to
// gin's binding engine.
func Configure(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Struct validates obj and returns a VALIDATION_ERROR listing every violated
// rule, or nil.
func Struct(obj any, messages Messages) *errors.AppError {
	err := Get().Struct(obj)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ErrBadRequest("validation failed: " + err.Error())
	}
	return errors.ErrValidationWithFields("validation failed", FieldMessages(fieldErrs, messages))
}

// FieldMessages converts validator errors to field -> message, keeping the
// first violated rule per field.
func FieldMessages(fieldErrs validator.ValidationErrors, messages Messages) map[string]string {
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Field()
		if _, seen := fields[field]; seen {
			continue
		}
		if msg, ok := messages[field+"."+fe.Tag()]; ok {
			fields[field] = msg
			continue
		}
		fields[field] = message(fe)
	}
	return fields
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", fe.Field(), fe.Param())
	case "uuid":
		return fmt.Sprintf("%s must be a valid UUID", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
// Field names reported in errors follow the json tags so callers see the
// names they sent on the wire.
var validate = newValidator()

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

// ValidateStruct runs the shared validator over s and converts the first
// failure into a *ValidationError naming the offending field.
func ValidateStruct(s any) error {
	return AsValidationError(validate.Struct(s))
}

// AsValidationError converts a validator error into a ValidationError naming
// the first offending field. Other errors are wrapped unchanged.
func AsValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   fe.Field(),
			Message: describeTag(fe.Tag(), fe.Param()),
		}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return &ValidationError{Message: err.Error(), Cause: err}
}

func describeTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + param
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	default:
		return "failed " + tag + " validation"
	}
}

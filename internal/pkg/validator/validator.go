package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Field names in errors follow the JSON contract.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

var (
	currencies = []string{"STARS", "USD"}
	// idempotency keys end up in log lines and unique indexes
	maxIdempotencyKeyLen = 200
)

func registerCustomValidations() {
	validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, c := range currencies {
			if value == c {
				return true
			}
		}
		return false
	})

	validate.RegisterValidation("idempotency_key", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == "" {
			return true
		}
		if len(value) > maxIdempotencyKeyLen {
			return false
		}
		return !strings.ContainsAny(value, " \t\r\n")
	})
}

// Validate validates a struct and returns field -> message, or nil when valid.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		errors[fe.Field()] = message(fe)
	}
	return errors
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "uuid", "uuid4":
		return "Must be a valid UUID"
	case "gt":
		return "Value must be greater than " + fe.Param()
	case "gte":
		return "Value must be at least " + fe.Param()
	case "lte":
		return "Value must be at most " + fe.Param()
	case "max":
		return "Value is too long (max: " + fe.Param() + ")"
	case "nefield":
		return "Must differ from " + fe.Param()
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "currency":
		return "Invalid currency. Must be: " + strings.Join(currencies, " or ")
	case "idempotency_key":
		return "Idempotency key must be at most 200 characters without whitespace"
	default:
		return "Invalid value"
	}
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

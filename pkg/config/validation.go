package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator is a wrapper around go-playground/validator
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator instance with Stoker's custom rules
// registered. The same instance validates both configuration and producer
// submissions.
func NewValidator() *Validator {
	v := validator.New()

	// store_url: scheme must name a supported backend
	_ = v.RegisterValidation("store_url", func(fl validator.FieldLevel) bool {
		url := fl.Field().String()
		for _, scheme := range []string{"redis://", "rediss://", "bolt://"} {
			if strings.HasPrefix(url, scheme) {
				return true
			}
		}
		return false
	})

	// resource: "cpu" or "gpu:<n>"
	_ = v.RegisterValidation("resource", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "cpu" {
			return true
		}
		if idx, ok := strings.CutPrefix(s, "gpu:"); ok && idx != "" {
			for _, r := range idx {
				if r < '0' || r > '9' {
					return false
				}
			}
			return true
		}
		return false
	})

	return &Validator{validate: v}
}

// Validate validates a struct using validation tags
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return v.formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors into readable messages
func (v *Validator) formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrs {
			messages = append(messages, fmt.Sprintf(
				"field '%s' failed validation: %s (value: '%v')",
				e.Field(),
				e.Tag(),
				e.Value(),
			))
		}
		return fmt.Errorf("validation failed:\n  %s", strings.Join(messages, "\n  "))
	}
	return err
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

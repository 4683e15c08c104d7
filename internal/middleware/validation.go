package middleware

import (
	"fmt"

	"medsales/internal/model"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators adds the domain enum tags to gin's validator. Call once before serving.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	rules := map[string]validator.Func{
		"perm_action": func(fl validator.FieldLevel) bool {
			return model.Action(fl.Field().String()).Valid()
		},
		"batch_status": func(fl validator.FieldLevel) bool {
			return model.BatchStatus(fl.Field().String()).Valid()
		},
		"case_status": func(fl validator.FieldLevel) bool {
			return model.CaseStatus(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s validator: %w", tag, err)
		}
	}
	return nil
}

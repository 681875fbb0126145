package core

import (
	"log/slog"

	"github.com/go-playground/validator/v10"

	"paygate/internal/types"
)

// Validator wraps go-playground/validator and translates its field errors
// into the service's AppError shape.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError describes a single failed field constraint.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates the struct's `validate` tags. On failure it
// returns a *types.AppError (400) whose Details carry the per-field errors
// under "validation_errors". The top-level code reflects the first failure:
// email-format failures map to validation_invalid_email, everything else to
// validation_missing_required_field.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	errs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fe.Error(),
		})
	}

	code := types.ErrCodeValidationMissingField
	if len(fieldErrs) > 0 && fieldErrs[0].Tag() == "email" {
		code = types.ErrCodeValidationInvalidEmail
	}

	return types.NewAppErrorWithDetails(
		code,
		"request validation failed",
		nil,
		map[string]any{"validation_errors": errs},
	)
}

package handler

import (
	"github.com/go-playground/validator/v10"
)

// Validator plugs go-playground/validator into Echo's c.Validate.
type Validator struct {
	v *validator.Validate
}

// NewValidator returns an Echo validator.
func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate implements echo.Validator.
func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// Package storage provides the persistence layer for classification sessions,
// finalized products and verification calls.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/hscode-copilot/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrDuplicateID  = errors.New("record already exists")
)

// validateContext ensures the context is usable.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateSession(session *model.Session) error {
	if session == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	return validateString(session.ID, "session ID")
}

func validateProduct(product *model.FinalProduct) error {
	if product == nil {
		return fmt.Errorf("%w: product", ErrNilParameter)
	}
	return product.Validate()
}

func validateVerification(v *model.VerificationSession) error {
	if v == nil {
		return fmt.Errorf("%w: verification", ErrNilParameter)
	}
	if err := validateString(v.ID, "verification ID"); err != nil {
		return err
	}
	if !v.Status.IsValid() {
		return fmt.Errorf("invalid verification status %q", v.Status)
	}
	return nil
}

package model

import (
	"fmt"
	"time"
)

// ProductStatus is the review status of a finalized product.
type ProductStatus string

// Product statuses.
const (
	ProductClassified  ProductStatus = "classified"
	ProductPending     ProductStatus = "pending"
	ProductNeedsReview ProductStatus = "needs_review"
)

// Thresholds holds the confidence cutoffs that drive product status.
type Thresholds struct {
	// Classified is the minimum confidence for a product to be classified outright.
	Classified int `json:"classified"`
	// Verification is the confidence below which a verification call is offered.
	Verification int `json:"verification"`
}

// DefaultThresholds returns the standard 85/80 cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Classified:   85,
		Verification: 80,
	}
}

// Validate checks the thresholds are within range.
func (t Thresholds) Validate() error {
	if t.Classified < 0 || t.Classified > 100 {
		return fmt.Errorf("classified threshold must be between 0 and 100, got %d", t.Classified)
	}
	if t.Verification < 0 || t.Verification > 100 {
		return fmt.Errorf("verification threshold must be between 0 and 100, got %d", t.Verification)
	}
	return nil
}

// StatusFor derives the product status from a confidence value.
func (t Thresholds) StatusFor(confidence int) ProductStatus {
	if confidence >= t.Classified {
		return ProductClassified
	}
	return ProductPending
}

// NeedsVerification reports whether confidence is low enough to offer a verification call.
func (t Thresholds) NeedsVerification(confidence int) bool {
	return confidence < t.Verification
}

// AlternativeCode is a runner-up candidate kept alongside the final code.
type AlternativeCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning"`
	Confidence  int    `json:"confidence"`
}

// FinalProduct is the immutable result of a finalized classification session.
type FinalProduct struct {
	DateAdded          time.Time         `json:"dateAdded"`
	ID                 string            `json:"id"`
	SessionID          string            `json:"sessionId"`
	Identification     string            `json:"identification"`
	Description        string            `json:"description"`
	HSCode             string            `json:"hsCode"`
	CodeDescription    string            `json:"codeDescription"`
	Reasoning          string            `json:"reasoning"`
	Category           string            `json:"category"`
	Origin             string            `json:"origin"`
	Status             ProductStatus     `json:"status"`
	VerificationID     string            `json:"verificationId,omitempty"`
	AlternativeHSCodes []AlternativeCode `json:"alternativeHSCodes"`
	QAHistory          []QAPair          `json:"qaHistory"`
	Confidence         int               `json:"confidence"`
	Iterations         int               `json:"iterations"`
	VerificationNeeded bool              `json:"verificationNeeded"`
}

// Validate ensures a product carries the fields a verification call relies on.
func (p FinalProduct) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("product ID is required")
	}
	if p.HSCode == "" {
		return fmt.Errorf("product HS code is required")
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100, got %d", p.Confidence)
	}
	return nil
}

// Clone returns a deep copy of the product.
func (p FinalProduct) Clone() FinalProduct {
	if p.AlternativeHSCodes != nil {
		p.AlternativeHSCodes = append([]AlternativeCode(nil), p.AlternativeHSCodes...)
	}
	if p.QAHistory != nil {
		p.QAHistory = append([]QAPair(nil), p.QAHistory...)
	}
	return p
}

// WithVerification returns a copy of the product whose status reflects a verification outcome.
// Only completed verifications change the status; a rejection always needs review.
func (p FinalProduct) WithVerification(v *VerificationSession) FinalProduct {
	out := p.Clone()
	if v == nil || v.Status != VerificationCompleted {
		return out
	}

	out.VerificationID = v.ID
	switch v.Outcome {
	case OutcomeConfirmed:
		out.Status = ProductClassified
	case OutcomeRejected:
		out.Status = ProductNeedsReview
	}
	return out
}

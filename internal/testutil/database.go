// Package testutil provides shared test fixtures for the hscode-copilot packages.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/hscode-copilot/internal/model"
	"github.com/Veraticus/hscode-copilot/internal/storage"
)

// SetupTestDB creates a migrated in-memory SQLite storage that is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	require.NoError(t, db.Create(ctx, testutil.NewSession("s1")))
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	db, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// FixedTime is the reference instant used by fixtures.
var FixedTime = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

// NewSession returns a questioning session with two candidates and one answered question.
func NewSession(id string) *model.Session {
	return &model.Session{
		ID:                 id,
		ProductDescription: "Wireless Bluetooth headphones",
		SmartQuery:         "wireless bluetooth headphones",
		State:              model.StateQuestioning,
		Candidates: model.Candidates{
			{Code: "8518.30.20", Description: "Headphones and earphones", SimilarityScore: 0.82},
			{Code: "8517.62.00", Description: "Machines for the reception of voice", SimilarityScore: 0.74},
		},
		PendingQuestion: &model.Question{Text: "Does it include a microphone?", Type: model.QuestionFreeText},
		CreatedAt:       FixedTime,
		UpdatedAt:       FixedTime,
	}
}

// NewProduct returns a finalized product with the given ID and confidence.
func NewProduct(id string, confidence int) *model.FinalProduct {
	return &model.FinalProduct{
		ID:             id,
		SessionID:      "session-" + id,
		Identification: "PROD-2025-06-02-093000",
		Description:    "Laptop Computer",
		HSCode:         "8471.30",
		Confidence:     confidence,
		Status:         model.DefaultThresholds().StatusFor(confidence),
		Category:       "Machinery",
		Origin:         "Unknown",
		AlternativeHSCodes: []model.AlternativeCode{
			{Code: "8517.12", Description: "Cellular device", Confidence: confidence - 10, Reasoning: "cellular modem option"},
		},
		DateAdded: FixedTime,
	}
}

// NewVerification returns a verification session in the starting state for product.
func NewVerification(id string, product *model.FinalProduct) *model.VerificationSession {
	return &model.VerificationSession{
		ID:        id,
		CallID:    "call-" + id,
		Status:    model.VerificationStarting,
		Product:   product.Clone(),
		CreatedAt: FixedTime,
		UpdatedAt: FixedTime,
	}
}

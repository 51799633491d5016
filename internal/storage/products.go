package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/hscode-copilot/internal/common"
	"github.com/Veraticus/hscode-copilot/internal/model"
)

// SaveProduct stores a finalized product. Products are immutable; saving an existing ID keeps the first version.
func (s *SQLiteStorage) SaveProduct(ctx context.Context, product *model.FinalProduct) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProduct(product); err != nil {
		return err
	}

	data, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to encode product: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, session_id, hs_code, confidence, status, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		product.ID,
		product.SessionID,
		product.HSCode,
		product.Confidence,
		string(product.Status),
		string(data),
		formatTime(product.DateAdded),
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}

	return nil
}

// GetProduct retrieves a finalized product by ID.
func (s *SQLiteStorage) GetProduct(ctx context.Context, productID string) (*model.FinalProduct, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(productID, "product ID"); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM products WHERE id = ?`, productID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("product %s", productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	var product model.FinalProduct
	if err := json.Unmarshal([]byte(data), &product); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", productID, err)
	}
	return &product, nil
}

// ListProducts returns all finalized products, newest first.
func (s *SQLiteStorage) ListProducts(ctx context.Context) ([]*model.FinalProduct, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []*model.FinalProduct
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var product model.FinalProduct
		if err := json.Unmarshal([]byte(data), &product); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		products = append(products, &product)
	}

	return products, rows.Err()
}

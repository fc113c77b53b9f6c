package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresCatalog implements EntityCatalog and CycleSource against the
// warehouse database.
type PostgresCatalog struct {
	db *sqlx.DB
}

// NewPostgresCatalog creates a warehouse-backed entity catalog.
func NewPostgresCatalog(db *sqlx.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) ListDeals(ctx context.Context) ([]Deal, error) {
	query := `
		SELECT id, name, issuer, deal_type, principal_amount, rating, yield, closing_date
		FROM deals
		ORDER BY name
	`

	var deals []Deal
	if err := c.db.SelectContext(ctx, &deals, query); err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	return deals, nil
}

func (c *PostgresCatalog) GetDeal(ctx context.Context, id int64) (*Deal, error) {
	query := `
		SELECT id, name, issuer, deal_type, principal_amount, rating, yield, closing_date
		FROM deals
		WHERE id = $1
	`

	var deal Deal
	if err := c.db.GetContext(ctx, &deal, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("deal not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return &deal, nil
}

func (c *PostgresCatalog) ListTranches(ctx context.Context, dealID int64) ([]Tranche, error) {
	query := `
		SELECT id, deal_id, class_name, principal_amount, interest_rate, rating, payment_priority
		FROM tranches
		WHERE deal_id = $1
		ORDER BY payment_priority, class_name
	`

	var tranches []Tranche
	if err := c.db.SelectContext(ctx, &tranches, query, dealID); err != nil {
		return nil, fmt.Errorf("failed to list tranches: %w", err)
	}
	return tranches, nil
}

func (c *PostgresCatalog) TranchesByDeal(ctx context.Context, dealIDs []int64) (map[int64][]Tranche, error) {
	query := `
		SELECT id, deal_id, class_name, principal_amount, interest_rate, rating, payment_priority
		FROM tranches
		WHERE deal_id = ANY($1)
		ORDER BY deal_id, payment_priority, class_name
	`

	var tranches []Tranche
	if err := c.db.SelectContext(ctx, &tranches, query, pq.Array(dealIDs)); err != nil {
		return nil, fmt.Errorf("failed to list tranches: %w", err)
	}

	byDeal := make(map[int64][]Tranche, len(dealIDs))
	for _, t := range tranches {
		byDeal[t.DealID] = append(byDeal[t.DealID], t)
	}
	return byDeal, nil
}

func (c *PostgresCatalog) ListCycles(ctx context.Context) ([]Cycle, error) {
	query := `SELECT id, label FROM cycles ORDER BY id DESC`

	var cycles []Cycle
	if err := c.db.SelectContext(ctx, &cycles, query); err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	return cycles, nil
}

func (c *PostgresCatalog) HasCycle(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM cycles WHERE id = $1)`
	if err := c.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check cycle: %w", err)
	}
	return exists, nil
}

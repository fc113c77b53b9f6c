package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Deal is a top-level financial instrument grouping tranches.
type Deal struct {
	ID              int64           `json:"id" db:"id"`
	Name            string          `json:"name" db:"name"`
	Issuer          string          `json:"issuer" db:"issuer"`
	DealType        string          `json:"deal_type" db:"deal_type"`
	PrincipalAmount decimal.Decimal `json:"principal_amount" db:"principal_amount"`
	Rating          string          `json:"rating" db:"rating"`
	Yield           decimal.Decimal `json:"yield" db:"yield"`
	ClosingDate     time.Time       `json:"closing_date" db:"closing_date"`
}

// Tranche is a sub-unit of a Deal with its own payment terms.
type Tranche struct {
	ID              int64           `json:"id" db:"id"`
	DealID          int64           `json:"deal_id" db:"deal_id"`
	ClassName       string          `json:"class_name" db:"class_name"`
	PrincipalAmount decimal.Decimal `json:"principal_amount" db:"principal_amount"`
	InterestRate    decimal.Decimal `json:"interest_rate" db:"interest_rate"`
	Rating          string          `json:"rating" db:"rating"`
	PaymentPriority int             `json:"payment_priority" db:"payment_priority"`
}

// Cycle is a reporting-period identifier scoping warehouse queries. The
// value is opaque to this module; it is supplied by an external collaborator.
type Cycle struct {
	ID    string `json:"id" db:"id"`
	Label string `json:"label" db:"label"`
}

// EntityCatalog provides deal/tranche entity lists and membership. It is an
// external collaborator from the core's point of view; the Postgres
// implementation in this package is one adapter.
type EntityCatalog interface {
	ListDeals(ctx context.Context) ([]Deal, error)
	GetDeal(ctx context.Context, id int64) (*Deal, error)
	ListTranches(ctx context.Context, dealID int64) ([]Tranche, error)
	TranchesByDeal(ctx context.Context, dealIDs []int64) (map[int64][]Tranche, error)
}

// CycleSource lists the reporting cycles known to the warehouse.
type CycleSource interface {
	ListCycles(ctx context.Context) ([]Cycle, error)
	HasCycle(ctx context.Context, id string) (bool, error)
}

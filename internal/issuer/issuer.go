package issuer

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDisabled is returned by the no-op backend.
var ErrDisabled = errors.New("issuance backend disabled")

// Request asks the external system to credit Amount for Points converted.
type Request struct {
	UserId         string
	Points         int64
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// Receipt identifies a completed issuance on the external side.
type Receipt struct {
	Reference string
	Amount    decimal.Decimal
}

// Issuer credits an external monetary balance. Implementations must honour
// IdempotencyKey so a retried conversion never issues twice.
type Issuer interface {
	Issue(ctx context.Context, req Request) (*Receipt, error)
}

// Disabled rejects every issuance.
type Disabled struct{}

func (Disabled) Issue(context.Context, Request) (*Receipt, error) {
	return nil, ErrDisabled
}

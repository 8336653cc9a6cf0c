package formance

import (
	"context"
	"fmt"
	"strconv"

	"eco-challenge-rewards-go/internal/issuer"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// numscriptIssue mints the converted amount from @world into the user's
// issued account. All metadata is set inside the script.
const numscriptIssue = `vars {
  asset $asset
  number $amount
  account $user_account
  string $user_id
  string $points
  string $description
}

send [$asset $amount] (
  source = @world
  destination = $user_account
)

set_tx_meta("event_type", "points_conversion")
set_tx_meta("user_id", $user_id)
set_tx_meta("points", $points)
set_tx_meta("description", $description)
`

// Issue posts the conversion with the idempotency key as the Formance
// reference. A CONFLICT means a previous attempt already landed.
func (s *Service) Issue(ctx context.Context, req issuer.Request) (*issuer.Receipt, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("issuance amount must be positive, got %s", req.Amount)
	}

	smallAmt := req.Amount.Shift(issuePrecision).Truncate(0).BigInt().String()

	postTx := shared.V2PostTransaction{
		Reference: strPtr(req.IdempotencyKey),
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptIssue,
			Vars: map[string]string{
				"asset":        formanceAsset(),
				"amount":       smallAmt,
				"user_account": issuedAccount(req.UserId),
				"user_id":      req.UserId,
				"points":       strconv.FormatInt(req.Points, 10),
				"description":  req.Description,
			},
		},
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Info("Issuance already recorded in Formance",
				zap.String("user_id", req.UserId),
				zap.String("reference", req.IdempotencyKey))
			return &issuer.Receipt{Reference: req.IdempotencyKey, Amount: req.Amount}, nil
		}
		return nil, fmt.Errorf("error recording issuance: %w", err)
	}

	zap.L().Info("Issuance recorded in Formance",
		zap.String("user_id", req.UserId),
		zap.String("amount", req.Amount.String()),
		zap.Int64("points", req.Points),
		zap.String("reference", req.IdempotencyKey))

	return &issuer.Receipt{Reference: req.IdempotencyKey, Amount: req.Amount}, nil
}

package formance

import (
	"context"
	"math/big"
	"testing"

	"eco-challenge-rewards-go/internal/issuer"
	"eco-challenge-rewards-go/internal/models"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
)

func TestFormanceAsset(t *testing.T) {
	if got := formanceAsset(); got != "POINTS_ISSUE/2" {
		t.Errorf("formanceAsset() = %q, want POINTS_ISSUE/2", got)
	}
	if got := issuedAccount("u-1"); got != "users:u-1:issued" {
		t.Errorf("issuedAccount() = %q", got)
	}
}

func TestVolumeBalance(t *testing.T) {
	vols := map[string]shared.V2Volume{
		"POINTS_ISSUE/2": {Input: big.NewInt(12_550), Output: big.NewInt(550)},
	}
	if got := volumeBalance(vols, "POINTS_ISSUE/2"); got.Int64() != 12_000 {
		t.Errorf("expected 12000, got %s", got)
	}
	if got := volumeBalance(vols, "USD/2"); got != nil {
		t.Errorf("expected nil for missing asset, got %s", got)
	}

	withBalance := map[string]shared.V2Volume{"POINTS_ISSUE/2": {Balance: big.NewInt(7)}}
	if got := volumeBalance(withBalance, "POINTS_ISSUE/2"); got.Int64() != 7 {
		t.Errorf("expected explicit balance 7, got %s", got)
	}
}

func TestBigIntToDecimal(t *testing.T) {
	// 12_345 smallest units at precision 2 = 123.45
	result := bigIntToDecimal(big.NewInt(12_345))
	if !result.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("expected 123.45, got %s", result.String())
	}

	if !bigIntToDecimal(nil).IsZero() {
		t.Error("expected nil to be zero")
	}
}

func TestNewServiceRequiresCredentials(t *testing.T) {
	if _, err := NewService(context.Background(), models.FormanceConfig{StackURL: "http://localhost"}); err == nil {
		t.Error("expected missing credentials to fail")
	}
}

func TestIssueValidatesInput(t *testing.T) {
	s := &Service{ledger: "test"}
	ctx := context.Background()

	if _, err := s.Issue(ctx, issuer.Request{UserId: "u", Amount: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected missing idempotency key to fail")
	}
	if _, err := s.Issue(ctx, issuer.Request{UserId: "u", IdempotencyKey: "k", Amount: decimal.Zero}); err == nil {
		t.Error("expected zero amount to fail")
	}
}

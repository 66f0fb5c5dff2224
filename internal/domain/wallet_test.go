package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestWithdrawFundsInsufficientBalanceLeavesWalletUnchanged(t *testing.T) {
	now := time.Now()
	w := NewCampaignWallet(uuid.New(), now)
	credit, err := w.AddFunds(decimal.NewFromInt(100), nil, "donation", now)
	if err != nil {
		t.Fatalf("AddFunds returned error: %v", err)
	}
	before := *w

	_, err = w.WithdrawFunds(decimal.RequireFromString("100.01"), nil, "payout", now.Add(time.Minute))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if _, err := w.Refund(decimal.NewFromInt(101), nil, "refund", now); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance from refund, got %v", err)
	}
	if !w.Balance.Equal(before.Balance) || !w.TotalWithdrawn.Equal(before.TotalWithdrawn) ||
		!w.TotalRefunded.Equal(before.TotalRefunded) || w.Version != before.Version || !w.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("expected wallet unchanged, before=%+v after=%+v", before, *w)
	}

	audit := w.Audit([]WalletTransaction{credit})
	if !audit.Consistent {
		t.Fatalf("expected consistent ledger, got %v", audit.Discrepancies)
	}
}

func TestAddThenWithdrawRestoresBalance(t *testing.T) {
	now := time.Now()
	w := NewCampaignWallet(uuid.New(), now)
	seed, _ := w.AddFunds(decimal.NewFromInt(40), nil, "seed", now)
	prior := w.Balance

	credit, err := w.AddFunds(decimal.RequireFromString("245.50"), nil, "donation", now)
	if err != nil {
		t.Fatalf("AddFunds returned error: %v", err)
	}
	debit, err := w.WithdrawFunds(decimal.RequireFromString("245.50"), nil, "payout", now)
	if err != nil {
		t.Fatalf("WithdrawFunds returned error: %v", err)
	}
	if !w.Balance.Equal(prior) {
		t.Fatalf("expected balance %s, got %s", prior, w.Balance)
	}
	if credit.Type != LedgerEntryCredit || debit.Type != LedgerEntryDebit {
		t.Fatalf("unexpected entry types %s/%s", credit.Type, debit.Type)
	}
	if !debit.BalanceAfter.Equal(prior) {
		t.Fatalf("expected balance_after %s, got %s", prior, debit.BalanceAfter)
	}

	audit := w.Audit([]WalletTransaction{seed, credit, debit})
	if !audit.Consistent || audit.Replayed.Entries != 3 {
		t.Fatalf("expected consistent three-entry ledger, got %+v", audit)
	}
}

func TestRefundTracksTotalRefunded(t *testing.T) {
	now := time.Now()
	w := NewCampaignWallet(uuid.New(), now)
	donationID := uuid.New()
	credit, _ := w.AddFunds(decimal.NewFromInt(490), &donationID, "donation", now)
	refund, err := w.Refund(decimal.NewFromInt(490), &donationID, "refund", now)
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if !w.Balance.IsZero() || !w.TotalRefunded.Equal(decimal.NewFromInt(490)) {
		t.Fatalf("unexpected wallet state %+v", w)
	}
	if audit := w.Audit([]WalletTransaction{credit, refund}); !audit.Consistent {
		t.Fatalf("expected consistent ledger, got %v", audit.Discrepancies)
	}
}

func TestAuditDetectsDrift(t *testing.T) {
	now := time.Now()
	w := NewCampaignWallet(uuid.New(), now)
	credit, _ := w.AddFunds(decimal.NewFromInt(100), nil, "donation", now)
	w.Balance = decimal.NewFromInt(150)

	audit := w.Audit([]WalletTransaction{credit})
	if audit.Consistent || len(audit.Discrepancies) == 0 {
		t.Fatalf("expected drift to be reported, got %+v", audit)
	}
}

func TestNonPositiveAmountsAreRejected(t *testing.T) {
	w := NewCampaignWallet(uuid.New(), time.Now())
	if _, err := w.AddFunds(decimal.Zero, nil, "", time.Now()); !errors.Is(err, ErrInvalidLedgerAmount) {
		t.Fatalf("expected ErrInvalidLedgerAmount, got %v", err)
	}
}

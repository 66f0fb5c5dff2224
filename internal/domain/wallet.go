/**
 * @description
 * Campaign wallets and their append-only ledger. Every mutation appends exactly one
 * WalletTransaction and moves the balance in the same step; a failed mutation leaves
 * the wallet untouched. The store wraps these methods in a row lock so two writers
 * never apply a mutation to the same stale snapshot.
 */

package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	ErrInvalidLedgerAmount = errors.New("ledger amount must be positive")
)

// LedgerEntryType is the kind of a wallet transaction.
type LedgerEntryType string

const (
	LedgerEntryCredit LedgerEntryType = "credit"
	LedgerEntryDebit  LedgerEntryType = "debit"
	LedgerEntryRefund LedgerEntryType = "refund"
)

// CampaignWallet maps to the `campaign_wallets` table.
type CampaignWallet struct {
	ID             uuid.UUID       `json:"id"`
	CampaignID     uuid.UUID       `json:"campaign_id"`
	Balance        decimal.Decimal `json:"balance"`
	TotalReceived  decimal.Decimal `json:"total_received"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalRefunded  decimal.Decimal `json:"total_refunded"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WalletTransaction maps to the `wallet_transactions` table.
type WalletTransaction struct {
	ID           uuid.UUID       `json:"id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	CampaignID   uuid.UUID       `json:"campaign_id"`
	Type         LedgerEntryType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	DonationID   *uuid.UUID      `json:"donation_id,omitempty"`
	WithdrawalID *uuid.UUID      `json:"withdrawal_id,omitempty"`
	Description  string          `json:"description"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewCampaignWallet returns an empty wallet for a campaign.
func NewCampaignWallet(campaignID uuid.UUID, now time.Time) *CampaignWallet {
	return &CampaignWallet{
		ID:             uuid.New(),
		CampaignID:     campaignID,
		Balance:        decimal.Zero,
		TotalReceived:  decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalRefunded:  decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AddFunds credits the wallet.
func (w *CampaignWallet) AddFunds(amount decimal.Decimal, donationID *uuid.UUID, description string, now time.Time) (WalletTransaction, error) {
	if !amount.IsPositive() {
		return WalletTransaction{}, ErrInvalidLedgerAmount
	}
	w.Balance = w.Balance.Add(amount)
	w.TotalReceived = w.TotalReceived.Add(amount)
	return w.appendEntry(LedgerEntryCredit, amount, donationID, nil, description, now), nil
}

// WithdrawFunds debits the wallet for a payout.
func (w *CampaignWallet) WithdrawFunds(amount decimal.Decimal, withdrawalID *uuid.UUID, description string, now time.Time) (WalletTransaction, error) {
	if !amount.IsPositive() {
		return WalletTransaction{}, ErrInvalidLedgerAmount
	}
	if amount.GreaterThan(w.Balance) {
		return WalletTransaction{}, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount.StringFixed(2), w.Balance.StringFixed(2))
	}
	w.Balance = w.Balance.Sub(amount)
	w.TotalWithdrawn = w.TotalWithdrawn.Add(amount)
	return w.appendEntry(LedgerEntryDebit, amount, nil, withdrawalID, description, now), nil
}

// Refund debits the wallet to return a donation.
func (w *CampaignWallet) Refund(amount decimal.Decimal, donationID *uuid.UUID, description string, now time.Time) (WalletTransaction, error) {
	if !amount.IsPositive() {
		return WalletTransaction{}, ErrInvalidLedgerAmount
	}
	if amount.GreaterThan(w.Balance) {
		return WalletTransaction{}, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount.StringFixed(2), w.Balance.StringFixed(2))
	}
	w.Balance = w.Balance.Sub(amount)
	w.TotalRefunded = w.TotalRefunded.Add(amount)
	return w.appendEntry(LedgerEntryRefund, amount, donationID, nil, description, now), nil
}

func (w *CampaignWallet) appendEntry(entryType LedgerEntryType, amount decimal.Decimal, donationID, withdrawalID *uuid.UUID, description string, now time.Time) WalletTransaction {
	w.Version++
	w.UpdatedAt = now
	return WalletTransaction{
		ID:           uuid.New(),
		WalletID:     w.ID,
		CampaignID:   w.CampaignID,
		Type:         entryType,
		Amount:       amount,
		BalanceAfter: w.Balance,
		DonationID:   donationID,
		WithdrawalID: withdrawalID,
		Description:  description,
		CreatedAt:    now,
	}
}

// LedgerTotals are the aggregates reconstructed from a transaction log.
type LedgerTotals struct {
	Balance        decimal.Decimal `json:"balance"`
	TotalReceived  decimal.Decimal `json:"total_received"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalRefunded  decimal.Decimal `json:"total_refunded"`
	Entries        int             `json:"entries"`
}

// ReplayLedger folds a transaction log, oldest first, into totals.
func ReplayLedger(entries []WalletTransaction) LedgerTotals {
	totals := LedgerTotals{
		Balance:        decimal.Zero,
		TotalReceived:  decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalRefunded:  decimal.Zero,
	}
	for _, entry := range entries {
		switch entry.Type {
		case LedgerEntryCredit:
			totals.Balance = totals.Balance.Add(entry.Amount)
			totals.TotalReceived = totals.TotalReceived.Add(entry.Amount)
		case LedgerEntryDebit:
			totals.Balance = totals.Balance.Sub(entry.Amount)
			totals.TotalWithdrawn = totals.TotalWithdrawn.Add(entry.Amount)
		case LedgerEntryRefund:
			totals.Balance = totals.Balance.Sub(entry.Amount)
			totals.TotalRefunded = totals.TotalRefunded.Add(entry.Amount)
		}
		totals.Entries++
	}
	return totals
}

// LedgerAudit compares a wallet's stored aggregates with its replayed log.
type LedgerAudit struct {
	CampaignID    uuid.UUID    `json:"campaign_id"`
	WalletID      uuid.UUID    `json:"wallet_id"`
	Consistent    bool         `json:"consistent"`
	Stored        LedgerTotals `json:"stored"`
	Replayed      LedgerTotals `json:"replayed"`
	Discrepancies []string     `json:"discrepancies,omitempty"`
}

// Audit checks the wallet invariants against its transaction log.
func (w CampaignWallet) Audit(entries []WalletTransaction) LedgerAudit {
	replayed := ReplayLedger(entries)
	stored := LedgerTotals{
		Balance:        w.Balance,
		TotalReceived:  w.TotalReceived,
		TotalWithdrawn: w.TotalWithdrawn,
		TotalRefunded:  w.TotalRefunded,
		Entries:        len(entries),
	}
	audit := LedgerAudit{
		CampaignID: w.CampaignID,
		WalletID:   w.ID,
		Stored:     stored,
		Replayed:   replayed,
	}

	check := func(name string, storedValue, replayedValue decimal.Decimal) {
		if !storedValue.Equal(replayedValue) {
			audit.Discrepancies = append(audit.Discrepancies, fmt.Sprintf("%s: stored %s, replayed %s", name, storedValue.StringFixed(2), replayedValue.StringFixed(2)))
		}
	}
	check("balance", w.Balance, replayed.Balance)
	check("total_received", w.TotalReceived, replayed.TotalReceived)
	check("total_withdrawn", w.TotalWithdrawn, replayed.TotalWithdrawn)
	check("total_refunded", w.TotalRefunded, replayed.TotalRefunded)

	derived := w.TotalReceived.Sub(w.TotalWithdrawn).Sub(w.TotalRefunded)
	if !derived.Equal(w.Balance) {
		audit.Discrepancies = append(audit.Discrepancies, fmt.Sprintf("balance identity: received-withdrawn-refunded is %s, balance is %s", derived.StringFixed(2), w.Balance.StringFixed(2)))
	}
	if w.Balance.IsNegative() {
		audit.Discrepancies = append(audit.Discrepancies, "balance is negative")
	}

	audit.Consistent = len(audit.Discrepancies) == 0
	return audit
}

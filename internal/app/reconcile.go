package app

import (
	"context"
	"fmt"
	"log"
)

// ReconcileReport summarises one settlement reconciliation pass.
type ReconcileReport struct {
	Scanned           int `json:"scanned"`
	Credited          int `json:"credited"`
	AlreadyCredited   int `json:"already_credited"`
	CreditFailures    int `json:"credit_failures"`
	DonorStatsApplied int `json:"donor_stats_applied"`
	DonorStatsFailed  int `json:"donor_stats_failed"`
}

// ReconcileSettlements repairs settled donations whose follow-up writes failed: it
// credits donations that have no wallet credit and applies missing donor aggregates.
// Both writes are idempotent, so overlapping passes are harmless.
func (s *Service) ReconcileSettlements(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if limit > maxReconcileLimit {
		limit = maxReconcileLimit
	}

	donations, err := s.repo.ListUncreditedSettlements(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("failed to list uncredited settlements: %w", err)
	}
	for i := range donations {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		donation := &donations[i]
		report.Scanned++
		_, created, err := s.creditDonation(ctx, donation)
		if err != nil {
			report.CreditFailures++
			log.Printf("level=error component=reconcile msg=\"wallet credit retry failed\" donation_id=%s campaign_id=%s err=%v", donation.ID, donation.CampaignID, err)
			continue
		}
		if created {
			report.Credited++
			log.Printf("level=info component=reconcile msg=\"settlement credited\" donation_id=%s campaign_id=%s net_amount=%s", donation.ID, donation.CampaignID, donation.NetAmount.StringFixed(2))
		} else {
			report.AlreadyCredited++
		}
	}

	pending, err := s.repo.ListPendingDonorStats(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("failed to list pending donor stats: %w", err)
	}
	for _, donationID := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		applied, err := s.repo.ApplyDonorStats(ctx, donationID)
		if err != nil {
			report.DonorStatsFailed++
			log.Printf("level=error component=reconcile msg=\"donor stats retry failed\" donation_id=%s err=%v", donationID, err)
			continue
		}
		if applied {
			report.DonorStatsApplied++
		}
	}
	return report, nil
}

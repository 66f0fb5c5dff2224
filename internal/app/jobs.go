/**
 * @description
 * Scheduled job implementations: settlement reconciliation and the wallet ledger audit.
 */

package app

import (
	"context"
	"log/slog"
	"time"
)

const jobTimeout = 5 * time.Minute

// MaintenanceService is the part of Service the scheduled jobs call.
type MaintenanceService interface {
	ReconcileSettlements(ctx context.Context, limit int) (ReconcileReport, error)
	AuditAllWallets(ctx context.Context) (LedgerAuditReport, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	svc            MaintenanceService
	logger         *slog.Logger
	reconcileLimit int
}

// NewJobs creates a new Jobs runner.
func NewJobs(svc MaintenanceService, logger *slog.Logger, reconcileLimit int) *Jobs {
	return &Jobs{
		svc:            svc,
		logger:         logger,
		reconcileLimit: reconcileLimit,
	}
}

// ReconcileSettlements credits settled donations that never reached their wallet.
func (j *Jobs) ReconcileSettlements() {
	j.logger.Info("starting settlement reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := j.svc.ReconcileSettlements(ctx, j.reconcileLimit)
	if err != nil {
		j.logger.Error("settlement reconciliation failed", "error", err, "scanned", report.Scanned, "credited", report.Credited)
		return
	}
	j.logger.Info("settlement reconciliation job finished",
		"scanned", report.Scanned,
		"credited", report.Credited,
		"already_credited", report.AlreadyCredited,
		"credit_failures", report.CreditFailures,
		"donor_stats_applied", report.DonorStatsApplied,
	)
}

// AuditLedgers replays every wallet ledger and reports drift.
func (j *Jobs) AuditLedgers() {
	j.logger.Info("starting ledger audit job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	report, err := j.svc.AuditAllWallets(ctx)
	if err != nil {
		j.logger.Error("ledger audit failed", "error", err, "audited", report.Audited)
		return
	}
	for _, audit := range report.Inconsistent {
		j.logger.Error("wallet ledger inconsistent",
			"campaign_id", audit.CampaignID,
			"wallet_id", audit.WalletID,
			"discrepancies", audit.Discrepancies,
		)
	}
	j.logger.Info("ledger audit job finished", "audited", report.Audited, "inconsistent", len(report.Inconsistent), "failed", report.Failed)
}

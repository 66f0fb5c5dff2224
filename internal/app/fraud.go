package app

import (
	"context"
	"fmt"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const fraudWindow = 24 * time.Hour

// Signal weights.
const (
	scoreIdentityBurst    = 30
	scoreIdentityFrequent = 15
	scoreIPBurst          = 40
	scoreIPFrequent       = 20
	scoreDuplicateAmount  = 10
	scoreAmountAnomaly    = 25
	scoreSpamPattern      = 15
)

// Signal thresholds.
const (
	identityBurstCount    = 10
	identityFrequentCount = 5
	ipBurstCount          = 20
	ipFrequentCount       = 10
	anomalyMultiplier     = 10
	spamAmountCeiling     = 10
	spamFrequencyCount    = 3
)

// FraudSignalSource reads the donation history the evaluator scores against.
type FraudSignalSource interface {
	CountDonationsSince(ctx context.Context, key domain.ActorKey, since time.Time) (int, error)
	HasDonationWithAmountSince(ctx context.Context, key domain.ActorKey, amount int64, since time.Time) (bool, error)
	AverageDonationAmount(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error)
}

// FraudEvaluator scores a prospective donation. It never writes.
type FraudEvaluator struct {
	source FraudSignalSource
	window time.Duration
}

func NewFraudEvaluator(source FraudSignalSource) *FraudEvaluator {
	return &FraudEvaluator{source: source, window: fraudWindow}
}

// Evaluate gathers the history signals concurrently and folds them into one assessment.
func (e *FraudEvaluator) Evaluate(ctx context.Context, actor domain.Actor, amount int64, campaignID uuid.UUID, now time.Time) (domain.FraudAssessment, error) {
	since := now.Add(-e.window)
	identity := actor.IdentityKey()
	ipKey := domain.ActorKey{Kind: domain.ActorKindIP, Value: actor.IPAddress}

	var (
		identityCount int
		ipCount       int
		duplicate     bool
		average       decimal.Decimal
	)

	g, gctx := errgroup.WithContext(ctx)
	if !identity.IsZero() && identity.Kind != domain.ActorKindIP {
		g.Go(func() error {
			count, err := e.source.CountDonationsSince(gctx, identity, since)
			if err != nil {
				return fmt.Errorf("count donations by %s: %w", identity.Kind, err)
			}
			identityCount = count
			return nil
		})
	}
	if !ipKey.IsZero() {
		g.Go(func() error {
			count, err := e.source.CountDonationsSince(gctx, ipKey, since)
			if err != nil {
				return fmt.Errorf("count donations by ip: %w", err)
			}
			ipCount = count
			return nil
		})
	}
	if !identity.IsZero() {
		g.Go(func() error {
			found, err := e.source.HasDonationWithAmountSince(gctx, identity, amount, since)
			if err != nil {
				return fmt.Errorf("duplicate amount lookup: %w", err)
			}
			duplicate = found
			return nil
		})
	}
	g.Go(func() error {
		avg, err := e.source.AverageDonationAmount(gctx, campaignID)
		if err != nil {
			return fmt.Errorf("campaign average lookup: %w", err)
		}
		average = avg
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.FraudAssessment{}, err
	}

	return scoreSignals(fraudSignals{
		identityCount: identityCount,
		ipCount:       ipCount,
		duplicate:     duplicate,
		average:       average,
		amount:        amount,
		identityIsIP:  identity.Kind == domain.ActorKindIP,
		identityLabel: string(identity.Kind),
	}), nil
}

type fraudSignals struct {
	identityCount int
	ipCount       int
	duplicate     bool
	average       decimal.Decimal
	amount        int64
	identityIsIP  bool
	identityLabel string
}

// scoreSignals applies the additive scoring table. The reported score is capped at
// domain.MaxFraudScore; the uncapped sum is kept in RawScore.
func scoreSignals(sig fraudSignals) domain.FraudAssessment {
	assessment := domain.FraudAssessment{
		Reasons:                make([]string, 0),
		DonationCountFromIP:    sig.ipCount,
		DonationCountFromDonor: sig.identityCount,
		DuplicateAmount:        sig.duplicate,
	}
	raw := 0

	switch {
	case sig.identityCount >= identityBurstCount:
		raw += scoreIdentityBurst
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("too many donations from this %s in 24 hours (%d)", sig.identityLabel, sig.identityCount))
	case sig.identityCount >= identityFrequentCount:
		raw += scoreIdentityFrequent
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("frequent donations from this %s in 24 hours (%d)", sig.identityLabel, sig.identityCount))
	}

	switch {
	case sig.ipCount >= ipBurstCount:
		raw += scoreIPBurst
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("too many donations from this IP address in 24 hours (%d)", sig.ipCount))
	case sig.ipCount >= ipFrequentCount:
		raw += scoreIPFrequent
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("frequent donations from this IP address in 24 hours (%d)", sig.ipCount))
	}

	if sig.duplicate {
		raw += scoreDuplicateAmount
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("duplicate amount %d within 24 hours", sig.amount))
	}

	if sig.average.IsPositive() && decimal.NewFromInt(sig.amount).GreaterThan(sig.average.Mul(decimal.NewFromInt(anomalyMultiplier))) {
		raw += scoreAmountAnomaly
		assessment.AmountAnomaly = true
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("amount is more than %dx the campaign average of %s", anomalyMultiplier, sig.average.StringFixed(2)))
	}

	frequency := sig.identityCount
	if sig.identityIsIP || sig.ipCount > frequency {
		frequency = sig.ipCount
	}
	if sig.amount < spamAmountCeiling && frequency >= spamFrequencyCount {
		raw += scoreSpamPattern
		assessment.Reasons = append(assessment.Reasons, "repeated small donations")
	}

	assessment.RawScore = raw
	assessment.Score = raw
	if assessment.Score > domain.MaxFraudScore {
		assessment.Score = domain.MaxFraudScore
	}
	assessment.RiskLevel = domain.RiskLevelForScore(assessment.Score)
	return assessment
}

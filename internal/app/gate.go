package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/google/uuid"
)

var ErrFraudBlocked = errors.New("donation blocked by fraud checks")

// FraudBlockedError carries the assessment that blocked a donation.
type FraudBlockedError struct {
	Assessment domain.FraudAssessment
}

func (e *FraudBlockedError) Error() string {
	return fmt.Sprintf("%s: score %d (%s)", ErrFraudBlocked, e.Assessment.Score, e.Assessment.ReasonSummary())
}

func (e *FraudBlockedError) Is(target error) bool {
	return target == ErrFraudBlocked
}

// screenDonation runs the velocity guard and the fraud evaluator. Nothing has been
// written when it returns an error.
func (s *Service) screenDonation(ctx context.Context, actor domain.Actor, amount int64, campaignID uuid.UUID, now time.Time) (domain.FraudSnapshot, error) {
	decision, err := s.velocity.Check(ctx, actor.VelocityKey(), now)
	if err != nil {
		return domain.FraudSnapshot{}, err
	}
	if !decision.Allowed {
		log.Printf("level=info component=service msg=\"donation rejected by velocity guard\" actor=%s retry_after=%d", actor.VelocityKey(), decision.RetryAfterSeconds)
		return domain.FraudSnapshot{}, &VelocityError{RetryAfterSeconds: decision.RetryAfterSeconds}
	}

	assessment, err := s.fraud.Evaluate(ctx, actor, amount, campaignID, now)
	if err != nil {
		return domain.FraudSnapshot{}, fmt.Errorf("fraud evaluation failed: %w", err)
	}
	if assessment.Score >= s.settings.FraudBlockScore {
		log.Printf("level=warn component=service msg=\"donation blocked by fraud checks\" campaign_id=%s score=%d raw_score=%d reasons=%q", campaignID, assessment.Score, assessment.RawScore, assessment.ReasonSummary())
		return domain.FraudSnapshot{}, &FraudBlockedError{Assessment: assessment}
	}
	if assessment.IsSuspicious() {
		log.Printf("level=warn component=service msg=\"suspicious donation accepted for review\" campaign_id=%s score=%d risk=%s", campaignID, assessment.Score, assessment.RiskLevel)
	}
	return assessment.Snapshot(strings.TrimSpace(actor.IPAddress), decision.SecondsSinceLast, true), nil
}

// validateDonation checks the fields shared by the pledge and capture paths.
func (s *Service) validateDonation(campaignID uuid.UUID, amount int64, donorID *uuid.UUID, email string) error {
	if campaignID == uuid.Nil {
		return ErrMissingCampaign
	}
	if err := domain.ValidateAmount(amount, s.settings.MinDonationAmount, s.settings.MaxDonationAmount); err != nil {
		return err
	}
	if donorID == nil && domain.NormalizeEmail(email) == "" {
		return ErrDonorContactRequired
	}
	return nil
}

// fillDonorContact copies the signed-in donor's email and name onto an empty request.
func (s *Service) fillDonorContact(ctx context.Context, donorID *uuid.UUID, email, name string) (string, string, error) {
	if donorID == nil || (strings.TrimSpace(email) != "" && strings.TrimSpace(name) != "") {
		return domain.NormalizeEmail(email), strings.TrimSpace(name), nil
	}
	user, err := s.repo.FindUserByID(ctx, *donorID)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(email) == "" {
		email = user.Email
	}
	if strings.TrimSpace(name) == "" && user.FullName != nil {
		name = *user.FullName
	}
	return domain.NormalizeEmail(email), strings.TrimSpace(name), nil
}

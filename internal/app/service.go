/**
 * @description
 * This file contains the core business logic for the donation-service. The Service
 * coordinates the repository, the payment gateway adapter and the event producer to
 * take a donation from pledge or order through settlement and into a campaign wallet.
 *
 * @dependencies
 * - internal/domain: For the donation, campaign and wallet models.
 * - internal/store: For database interactions.
 * - pkg/gatewayclient: For creating orders and verifying payments with the gateway.
 * - pkg/rabbitmq: For publishing donation lifecycle events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fundbridge/donation-service/internal/config"
	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/fundbridge/donation-service/pkg/gatewayclient"
	"github.com/fundbridge/donation-service/pkg/rabbitmq"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	maxReceiptAttempts     = 5
	defaultPageSize        = 20
	maxPageSize            = 100
	defaultReconcileLimit  = 100
	maxReconcileLimit      = 500
	defaultFraudBlockScore = 80
)

var (
	ErrForbidden              = errors.New("not allowed to access this resource")
	ErrMissingCampaign        = errors.New("campaign id is required")
	ErrDonorContactRequired   = errors.New("donor email is required for guest donations")
	ErrMissingPaymentFields   = errors.New("order id, payment id, signature and donation id are required")
	ErrOrderMismatch          = errors.New("order id does not match the donation")
	ErrDonationNotPayable     = errors.New("donation can no longer be paid")
	ErrEmptyUpdate            = errors.New("update carries no changes")
	ErrRefundReasonRequired   = errors.New("refund reason is required")
	ErrWithdrawalExceedsFunds = errors.New("withdrawal amount exceeds the wallet balance")
)

// PaymentGateway is the subset of the gateway client the service calls.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gatewayclient.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*gatewayclient.Payment, error)
	VerifyPaymentSignature(orderID, paymentID, signature string) error
	PublicKeyID() string
}

// Settings holds the tunables the service reads on every request.
type Settings struct {
	Currency            string
	PlatformFeePercent  decimal.Decimal
	MinDonationAmount   int64
	MaxDonationAmount   int64
	FraudBlockScore     int
	VelocityMinInterval time.Duration
}

// SettingsFromConfig maps the loaded configuration onto service settings.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Currency:            cfg.GatewayCurrency,
		PlatformFeePercent:  decimal.NewFromFloat(cfg.PlatformFeePercent),
		MinDonationAmount:   cfg.MinDonationAmount,
		MaxDonationAmount:   cfg.MaxDonationAmount,
		FraudBlockScore:     cfg.FraudBlockScore,
		VelocityMinInterval: time.Duration(cfg.VelocityMinIntervalSeconds) * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	if strings.TrimSpace(s.Currency) == "" {
		s.Currency = "INR"
	}
	if s.MinDonationAmount <= 0 {
		s.MinDonationAmount = domain.MinDonationAmount
	}
	if s.MaxDonationAmount <= 0 || s.MaxDonationAmount < s.MinDonationAmount {
		s.MaxDonationAmount = domain.MaxDonationAmount
	}
	if s.FraudBlockScore <= 0 {
		s.FraudBlockScore = defaultFraudBlockScore
	}
	if s.VelocityMinInterval <= 0 {
		s.VelocityMinInterval = defaultVelocityInterval
	}
	return s
}

// Service provides the core business logic for donations.
type Service struct {
	repo          store.Repository
	gateway       PaymentGateway
	eventProducer rabbitmq.Publisher
	receipts      *domain.ReceiptGenerator
	fraud         *FraudEvaluator
	velocity      *VelocityGuard
	settings      Settings
	now           func() time.Time
}

// NewService creates a new donation service instance.
func NewService(repo store.Repository, gateway PaymentGateway, producer rabbitmq.Publisher, settings Settings) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	settings = settings.withDefaults()
	return &Service{
		repo:          repo,
		gateway:       gateway,
		eventProducer: producer,
		receipts:      domain.NewReceiptGenerator(),
		fraud:         NewFraudEvaluator(repo),
		velocity:      NewVelocityGuard(repo, nil, settings.VelocityMinInterval),
		settings:      settings,
		now:           time.Now,
	}
}

// SetVelocityCache attaches a shared last-donation cache to the velocity guard.
func (s *Service) SetVelocityCache(cache LastDonationCache) {
	s.velocity.cache = cache
}

// SetClock overrides the wall clock. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.receipts = domain.NewReceiptGeneratorWithClock(now)
}

// ResolveInternalUserID converts an identity provider subject (the JWT `sub` claim)
// into the internal UUID used by our database.
func (s *Service) ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error) {
	return s.repo.FindUserIDByAuthSubject(ctx, strings.TrimSpace(subject))
}

// GetDonationStatus returns the donor-facing status of a donation owned by donorID.
func (s *Service) GetDonationStatus(ctx context.Context, donationID, donorID uuid.UUID) (*domain.DonationStatusView, error) {
	donation, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if donation.DonorID == nil || *donation.DonorID != donorID {
		return nil, ErrForbidden
	}
	view := donation.StatusView()
	return &view, nil
}

// ListDonorDonations pages through a donor's own donations, newest first.
func (s *Service) ListDonorDonations(ctx context.Context, donorID uuid.UUID, limit, offset int) ([]domain.Donation, error) {
	limit, offset = normalizePage(limit, offset)
	return s.repo.ListDonationsByDonor(ctx, donorID, limit, offset)
}

// GetDonation returns the full donation record with its audit trail. Admin only.
func (s *Service) GetDonation(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	donation, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		return nil, err
	}
	actions, err := s.repo.ListAdminActions(ctx, donationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin actions: %w", err)
	}
	donation.AdminActions = actions
	return donation, nil
}

// insertWithReceipt assigns a fresh receipt number and retries the insert when the
// database reports that the number is already taken.
func (s *Service) insertWithReceipt(ctx context.Context, donation *domain.Donation, insert func(context.Context, *domain.Donation) error) error {
	for attempt := 1; ; attempt++ {
		receipt, err := s.receipts.Next()
		if err != nil {
			return fmt.Errorf("failed to generate receipt number: %w", err)
		}
		donation.ReceiptNumber = receipt

		err = insert(ctx, donation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicateReceipt) || attempt >= maxReceiptAttempts {
			return err
		}
		log.Printf("level=warn component=service msg=\"receipt number collision; retrying\" receipt=%s attempt=%d", receipt, attempt)
	}
}

// creditDonation moves a settled donation's net amount into its campaign wallet. The
// store applies at most one credit per donation.
func (s *Service) creditDonation(ctx context.Context, donation *domain.Donation) (*domain.WalletTransaction, bool, error) {
	donationID := donation.ID
	return s.repo.AddFunds(ctx, store.LedgerEntryParams{
		CampaignID:  donation.CampaignID,
		Amount:      donation.NetAmount,
		DonationID:  &donationID,
		Description: fmt.Sprintf("Donation %s", donation.ReceiptNumber),
		Now:         s.now(),
	})
}

func (s *Service) applyDonorStats(ctx context.Context, donation *domain.Donation) {
	if donation.DonorID == nil {
		return
	}
	if _, err := s.repo.ApplyDonorStats(ctx, donation.ID); err != nil {
		log.Printf("level=error component=service msg=\"donor stats update failed; reconciliation will retry\" donation_id=%s donor_id=%s err=%v", donation.ID, *donation.DonorID, err)
	}
}

func (s *Service) publishDonationEvent(ctx context.Context, eventType string, donation *domain.Donation, reason string) {
	event := domain.NewDonationEvent(eventType, donation, reason, s.now())
	if err := s.eventProducer.PublishDonationEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish donation event\" event_type=%s donation_id=%s err=%v", eventType, donation.ID, err)
	}
}

func (s *Service) publishWithdrawalEvent(ctx context.Context, request *domain.WithdrawalRequest) {
	event := domain.NewWithdrawalEvent(request, s.now())
	if err := s.eventProducer.PublishWithdrawalEvent(ctx, event); err != nil {
		log.Printf("level=warn component=service msg=\"failed to publish withdrawal event\" event_type=%s withdrawal_id=%s err=%v", event.EventType, request.ID, err)
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

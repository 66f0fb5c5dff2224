package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fundbridge/donation-service/internal/app"
	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/fundbridge/donation-service/pkg/gatewayclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// serviceStub embeds DonationService so tests only implement what they exercise.
type serviceStub struct {
	DonationService

	users map[string]uuid.UUID

	createOrder     func(donorID *uuid.UUID, req domain.OrderRequest) (*domain.OrderResult, error)
	verifyPayment   func(req domain.VerifyPaymentRequest) (*domain.VerificationResult, error)
	donationStatus  func(donationID, donorID uuid.UUID) (*domain.DonationStatusView, error)
	getWallet       func(campaignID uuid.UUID, requester app.Requester) (*domain.CampaignWallet, error)
	reviewDonation  func(donationID, adminID uuid.UUID, update domain.AdminUpdate) (*domain.Donation, error)
	reconcileCalled int
}

func (s *serviceStub) ResolveInternalUserID(ctx context.Context, subject string) (uuid.UUID, error) {
	id, ok := s.users[subject]
	if !ok {
		return uuid.Nil, store.ErrUserNotFound
	}
	return id, nil
}

func (s *serviceStub) CreateOrder(ctx context.Context, donorID *uuid.UUID, req domain.OrderRequest) (*domain.OrderResult, error) {
	return s.createOrder(donorID, req)
}

func (s *serviceStub) VerifyPayment(ctx context.Context, req domain.VerifyPaymentRequest) (*domain.VerificationResult, error) {
	return s.verifyPayment(req)
}

func (s *serviceStub) GetDonationStatus(ctx context.Context, donationID, donorID uuid.UUID) (*domain.DonationStatusView, error) {
	return s.donationStatus(donationID, donorID)
}

func (s *serviceStub) GetWallet(ctx context.Context, campaignID uuid.UUID, requester app.Requester) (*domain.CampaignWallet, error) {
	return s.getWallet(campaignID, requester)
}

func (s *serviceStub) ReviewDonation(ctx context.Context, donationID, adminID uuid.UUID, update domain.AdminUpdate) (*domain.Donation, error) {
	return s.reviewDonation(donationID, adminID, update)
}

func (s *serviceStub) ReconcileSettlements(ctx context.Context, limit int) (app.ReconcileReport, error) {
	s.reconcileCalled++
	return app.ReconcileReport{Scanned: 1, Credited: 1}, nil
}

type routerFixture struct {
	handler http.Handler
	signer  tokenSigner
	stub    *serviceStub
	donorID uuid.UUID
	adminID uuid.UUID
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	auth, signer := newTestAuthenticator(t)
	f := &routerFixture{signer: signer, donorID: uuid.New(), adminID: uuid.New()}
	f.stub = &serviceStub{users: map[string]uuid.UUID{"user_donor": f.donorID, "user_admin": f.adminID}}
	f.handler = DonationRoutes(NewDonationHandlers(f.stub), auth, []string{"*"})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path, body, subject string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if subject != "" {
		extra := map[string]interface{}{}
		if admin {
			extra["role"] = "admin"
		}
		req.Header.Set("Authorization", "Bearer "+f.signer.sign(t, claimsFor(subject, extra)))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", "", false)
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateOrderHandler_GuestAndSignedIn(t *testing.T) {
	f := newRouterFixture(t)
	campaignID := uuid.New()
	var gotDonor *uuid.UUID
	var gotIP string
	f.stub.createOrder = func(donorID *uuid.UUID, req domain.OrderRequest) (*domain.OrderResult, error) {
		gotDonor, gotIP = donorID, req.IPAddress
		return &domain.OrderResult{DonationID: uuid.New(), OrderID: "order_1", Amount: req.Amount, AmountMinor: req.Amount * 100, Currency: "INR", KeyID: "rzp_test"}, nil
	}
	body := `{"campaign_id":"` + campaignID.String() + `","amount":500,"donor_email":"guest@example.com"}`

	rec := f.do(t, http.MethodPost, "/payments/orders", body, "", false)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotDonor != nil || gotIP != "203.0.113.7" {
		t.Fatalf("expected guest order from forwarded ip, got donor=%v ip=%q", gotDonor, gotIP)
	}
	if resp := decodeJSON(t, rec); resp["order_id"] != "order_1" || resp["key_id"] != "rzp_test" {
		t.Fatalf("unexpected response %v", resp)
	}

	rec = f.do(t, http.MethodPost, "/payments/orders", body, "user_donor", false)
	if rec.Code != http.StatusCreated || gotDonor == nil || *gotDonor != f.donorID {
		t.Fatalf("expected signed-in order for donor, got %d donor=%v", rec.Code, gotDonor)
	}

	rec = f.do(t, http.MethodPost, "/payments/orders", body, "user_unknown", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown user to be rejected, got %d", rec.Code)
	}
}

func TestCreateOrderHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "velocity limited",
			err:        &app.VelocityError{RetryAfterSeconds: 20},
			wantStatus: http.StatusTooManyRequests,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if rec.Header().Get("Retry-After") != "20" {
					t.Fatalf("expected Retry-After 20, got %q", rec.Header().Get("Retry-After"))
				}
			},
		},
		{
			name:       "fraud blocked",
			err:        &app.FraudBlockedError{Assessment: domain.FraudAssessment{Score: 95, RiskLevel: domain.RiskLevelCritical, Reasons: []string{"Frequent donations from IP"}}},
			wantStatus: http.StatusForbidden,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decodeJSON(t, rec)
				if resp["risk_score"] != float64(95) || len(resp["reasons"].([]interface{})) != 1 {
					t.Fatalf("expected fraud details, got %v", resp)
				}
			},
		},
		{
			name:       "goal reached",
			err:        &domain.HeadroomError{Requested: 500, MaxAllowed: 0, GoalReached: true},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "exceeds headroom",
			err:        &domain.HeadroomError{Requested: 5000, MaxAllowed: 1100},
			wantStatus: http.StatusBadRequest,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if resp := decodeJSON(t, rec); resp["max_allowed"] != float64(1100) {
					t.Fatalf("expected max_allowed 1100, got %v", resp)
				}
			},
		},
		{
			name:       "gateway not configured",
			err:        &gatewayclient.ConfigError{KeyIDSet: true, KeySecretSet: false},
			wantStatus: http.StatusServiceUnavailable,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				resp := decodeJSON(t, rec)
				if resp["key_id_set"] != true || resp["key_secret_set"] != false {
					t.Fatalf("expected diagnostic fields, got %v", resp)
				}
			},
		},
		{name: "gateway failure", err: &gatewayclient.APIError{StatusCode: 500, Code: "SERVER_ERROR"}, wantStatus: http.StatusBadGateway},
		{name: "invalid amount", err: domain.ErrInvalidAmount, wantStatus: http.StatusBadRequest},
		{name: "guest without email", err: app.ErrDonorContactRequired, wantStatus: http.StatusBadRequest},
		{name: "unknown campaign", err: store.ErrCampaignNotFound, wantStatus: http.StatusNotFound},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.stub.createOrder = func(*uuid.UUID, domain.OrderRequest) (*domain.OrderResult, error) { return nil, tt.err }
			rec := f.do(t, http.MethodPost, "/payments/orders", `{"amount":500}`, "", false)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestCreateOrderHandler_InvalidJSON(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/payments/orders", `{"amount":`, "", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVerifyPaymentHandler(t *testing.T) {
	f := newRouterFixture(t)
	donationID := uuid.New()
	f.stub.verifyPayment = func(req domain.VerifyPaymentRequest) (*domain.VerificationResult, error) {
		if req.Signature != "good" {
			return nil, gatewayclient.ErrSignatureMismatch
		}
		return &domain.VerificationResult{DonationID: req.DonationID, Status: domain.PaymentStatusSuccess, AlreadyProcessed: true}, nil
	}

	body := `{"order_id":"order_1","payment_id":"pay_1","signature":"good","donation_id":"` + donationID.String() + `"}`
	rec := f.do(t, http.MethodPost, "/payments/verify", body, "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if resp := decodeJSON(t, rec); resp["already_processed"] != true || resp["status"] != "success" {
		t.Fatalf("unexpected response %v", resp)
	}

	rec = f.do(t, http.MethodPost, "/payments/verify", strings.Replace(body, "good", "forged", 1), "", false)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected signature mismatch to be 400, got %d", rec.Code)
	}
}

func TestDonationStatusHandler(t *testing.T) {
	f := newRouterFixture(t)
	owned := uuid.New()
	f.stub.donationStatus = func(donationID, donorID uuid.UUID) (*domain.DonationStatusView, error) {
		if donationID != owned || donorID != f.donorID {
			return nil, app.ErrForbidden
		}
		return &domain.DonationStatusView{DonationID: donationID, PaymentStatus: domain.PaymentStatusPending}, nil
	}

	if rec := f.do(t, http.MethodGet, "/donations/"+owned.String()+"/status", "", "", false); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/donations/"+owned.String()+"/status", "", "user_donor", false); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/donations/"+uuid.NewString()+"/status", "", "user_donor", false); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for someone else's donation, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/donations/not-a-uuid/status", "", "user_donor", false); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestGetWalletHandler_PassesAdminFlag(t *testing.T) {
	f := newRouterFixture(t)
	campaignID := uuid.New()
	var got app.Requester
	f.stub.getWallet = func(id uuid.UUID, requester app.Requester) (*domain.CampaignWallet, error) {
		got = requester
		return &domain.CampaignWallet{CampaignID: id, Balance: decimal.NewFromInt(980)}, nil
	}

	rec := f.do(t, http.MethodGet, "/campaigns/"+campaignID.String()+"/wallet", "", "user_admin", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got.UserID != f.adminID || !got.IsAdmin {
		t.Fatalf("unexpected requester %+v", got)
	}
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	f := newRouterFixture(t)
	donationID := uuid.New()
	f.stub.reviewDonation = func(id, adminID uuid.UUID, update domain.AdminUpdate) (*domain.Donation, error) {
		if update.IsEmpty() {
			return nil, app.ErrEmptyUpdate
		}
		return &domain.Donation{ID: id, PaymentStatus: domain.PaymentStatusFailed}, nil
	}
	body := `{"admin_rejected":true,"rejection_reason":"bounced"}`

	if rec := f.do(t, http.MethodPatch, "/admin/donations/"+donationID.String(), body, "user_donor", false); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPatch, "/admin/donations/"+donationID.String(), body, "user_admin", true); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPatch, "/admin/donations/"+donationID.String(), `{}`, "user_admin", true); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/admin/reconcile?limit=50", "", "user_admin", true)
	if rec.Code != http.StatusOK || f.stub.reconcileCalled != 1 {
		t.Fatalf("expected reconcile to run, got %d calls=%d", rec.Code, f.stub.reconcileCalled)
	}
}

func TestWriteServiceError_ConflictsAndNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrInsufficientBalance, want: http.StatusConflict},
		{err: app.ErrWithdrawalExceedsFunds, want: http.StatusConflict},
		{err: domain.ErrInvalidWithdrawalTransition, want: http.StatusConflict},
		{err: store.ErrConcurrentUpdate, want: http.StatusConflict},
		{err: store.ErrWithdrawalNotFound, want: http.StatusNotFound},
		{err: store.ErrDonationNotFound, want: http.StatusNotFound},
		{err: app.ErrRefundReasonRequired, want: http.StatusBadRequest},
		{err: domain.ErrRejectionReason, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, "test", tt.err)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

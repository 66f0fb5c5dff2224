package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fundbridge/donation-service/internal/domain"
	"github.com/fundbridge/donation-service/internal/store"
	"github.com/fundbridge/donation-service/pkg/gatewayclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memRepo is an in-memory store.Repository. Every method holds the mutex for its whole
// body, which gives the same all-or-nothing behaviour as the SQL transactions.
type memRepo struct {
	store.Repository

	mu          sync.Mutex
	users       map[uuid.UUID]*domain.User
	subjects    map[string]uuid.UUID
	campaigns   map[uuid.UUID]*domain.Campaign
	donations   map[uuid.UUID]*domain.Donation
	statsDone   map[uuid.UUID]bool
	actions     []domain.AdminAction
	wallets     map[uuid.UUID]*domain.CampaignWallet
	ledger      map[uuid.UUID][]domain.WalletTransaction
	withdrawals map[uuid.UUID]*domain.WithdrawalRequest

	duplicateReceipts int
	addFundsErr       error
	deleteErr         error
	attachErr         error

	addFundsCalls int
	settleCalls   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:       make(map[uuid.UUID]*domain.User),
		subjects:    make(map[string]uuid.UUID),
		campaigns:   make(map[uuid.UUID]*domain.Campaign),
		donations:   make(map[uuid.UUID]*domain.Donation),
		statsDone:   make(map[uuid.UUID]bool),
		wallets:     make(map[uuid.UUID]*domain.CampaignWallet),
		ledger:      make(map[uuid.UUID][]domain.WalletTransaction),
		withdrawals: make(map[uuid.UUID]*domain.WithdrawalRequest),
	}
}

func (r *memRepo) addCampaign(goal, raised int64) *domain.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &domain.Campaign{ID: uuid.New(), OwnerID: uuid.New(), Title: "Clean water", GoalAmount: goal, RaisedAmount: raised}
	r.campaigns[c.ID] = c
	copied := *c
	return &copied
}

func (r *memRepo) addUser(email string) *domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := &domain.User{ID: uuid.New(), AuthSubject: "user_" + email, Email: email}
	r.users[u.ID] = u
	r.subjects[u.AuthSubject] = u.ID
	copied := *u
	return &copied
}

// seedDonation stores a donation as-is, bypassing the campaign counters.
func (r *memRepo) seedDonation(d domain.Donation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donations[d.ID] = &d
}

func (r *memRepo) campaign(id uuid.UUID) domain.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.campaigns[id]
}

func (r *memRepo) user(id uuid.UUID) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *memRepo) donation(id uuid.UUID) (domain.Donation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return domain.Donation{}, false
	}
	return *d, true
}

func (r *memRepo) entries(campaignID uuid.UUID) []domain.WalletTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WalletTransaction(nil), r.ledger[campaignID]...)
}

func (r *memRepo) wallet(campaignID uuid.UUID) (domain.CampaignWallet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[campaignID]
	if !ok {
		return domain.CampaignWallet{}, false
	}
	return *w, true
}

func (r *memRepo) FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.subjects[subject]
	if !ok {
		return uuid.Nil, store.ErrUserNotFound
	}
	return id, nil
}

func (r *memRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memRepo) ApplyDonorStats(ctx context.Context, donationID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[donationID]
	if !ok || d.DonorID == nil || d.PaymentStatus != domain.PaymentStatusSuccess || r.statsDone[donationID] {
		return false, nil
	}
	r.statsDone[donationID] = true
	if u, ok := r.users[*d.DonorID]; ok {
		u.TotalDonated += d.Amount
		u.TotalDonations++
		at := d.UpdatedAt
		if u.LastDonationAt == nil || u.LastDonationAt.Before(at) {
			u.LastDonationAt = &at
		}
	}
	return true, nil
}

func (r *memRepo) FindCampaignByID(ctx context.Context, campaignID uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, store.ErrCampaignNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memRepo) insertLocked(d *domain.Donation) error {
	if _, ok := r.campaigns[d.CampaignID]; !ok {
		return store.ErrCampaignNotFound
	}
	if r.duplicateReceipts > 0 {
		r.duplicateReceipts--
		return store.ErrDuplicateReceipt
	}
	for _, existing := range r.donations {
		if existing.ReceiptNumber == d.ReceiptNumber {
			return store.ErrDuplicateReceipt
		}
	}
	copied := *d
	r.donations[d.ID] = &copied
	return nil
}

func (r *memRepo) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(donation)
}

func (r *memRepo) CreateCommitment(ctx context.Context, donation *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	donation.CountedInRaised = true
	if err := r.insertLocked(donation); err != nil {
		donation.CountedInRaised = false
		return err
	}
	c := r.campaigns[donation.CampaignID]
	c.RaisedAmount += donation.Amount
	c.Contributors++
	return nil
}

func (r *memRepo) AttachOrderID(ctx context.Context, donationID uuid.UUID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return r.attachErr
	}
	d, ok := r.donations[donationID]
	if !ok {
		return store.ErrDonationNotFound
	}
	d.OrderID = &orderID
	return nil
}

func (r *memRepo) DeletePendingDonation(ctx context.Context, donationID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return false, r.deleteErr
	}
	d, ok := r.donations[donationID]
	if !ok || d.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	delete(r.donations, donationID)
	return true, nil
}

func (r *memRepo) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[donationID]
	if !ok {
		return nil, store.ErrDonationNotFound
	}
	copied := *d
	return &copied, nil
}

func (r *memRepo) ListDonationsByDonor(ctx context.Context, donorID uuid.UUID, limit int, offset int) ([]domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Donation, 0)
	for _, d := range r.donations {
		if d.DonorID != nil && *d.DonorID == donorID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []domain.Donation{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SettleDonation(ctx context.Context, params store.SettleDonationParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleCalls++
	d, ok := r.donations[params.DonationID]
	if !ok || d.OrderID == nil || *d.OrderID != params.OrderID {
		return false, nil
	}
	if d.PaymentStatus != domain.PaymentStatusPending && d.PaymentStatus != domain.PaymentStatusProcessing {
		return false, nil
	}
	settlement := params.Settlement
	d.PaymentStatus = domain.PaymentStatusSuccess
	d.PaymentMethod = settlement.Method
	d.Settlement = &settlement
	d.CountedInRaised = true
	d.UpdatedAt = settlement.SettledAt
	c := r.campaigns[d.CampaignID]
	c.RaisedAmount += d.Amount
	c.Contributors++
	return true, nil
}

func (r *memRepo) reverseRaisedLocked(d *domain.Donation) {
	if !d.CountedInRaised {
		return
	}
	c := r.campaigns[d.CampaignID]
	c.RaisedAmount -= d.Amount
	if c.RaisedAmount < 0 {
		c.RaisedAmount = 0
	}
	if c.Contributors > 0 {
		c.Contributors--
	}
	d.CountedInRaised = false
}

func (r *memRepo) ApplyAdminReview(ctx context.Context, params store.AdminReviewParams) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.donations[params.Donation.ID]
	if !ok || current.PaymentStatus != params.Expected {
		return nil, store.ErrConcurrentUpdate
	}
	counted := current.CountedInRaised
	updated := *params.Donation
	updated.CountedInRaised = counted
	if params.Adjustment == store.RaisedReverse {
		r.reverseRaisedLocked(&updated)
	}
	r.donations[updated.ID] = &updated
	r.actions = append(r.actions, params.Action)
	copied := updated
	return &copied, nil
}

func (r *memRepo) ListAdminActions(ctx context.Context, donationID uuid.UUID) ([]domain.AdminAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.AdminAction, 0)
	for _, a := range r.actions {
		if a.DonationID == donationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) creditLocked(donationID uuid.UUID) *domain.WalletTransaction {
	for _, entries := range r.ledger {
		for i := range entries {
			e := entries[i]
			if e.Type == domain.LedgerEntryCredit && e.DonationID != nil && *e.DonationID == donationID {
				return &e
			}
		}
	}
	return nil
}

func (r *memRepo) RefundDonation(ctx context.Context, params store.RefundDonationParams) (*domain.Donation, *domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.donations[params.DonationID]
	if !ok {
		return nil, nil, store.ErrDonationNotFound
	}
	if current.PaymentStatus != domain.PaymentStatusSuccess {
		return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.PaymentStatus, domain.PaymentStatusRefunded)
	}
	credit := r.creditLocked(current.ID)
	if credit == nil {
		return nil, nil, store.ErrDonationNotCredited
	}
	donation := *current
	params.Refund.Amount = credit.Amount
	if err := donation.MarkRefunded(params.Refund); err != nil {
		return nil, nil, err
	}
	w, ok := r.wallets[donation.CampaignID]
	if !ok {
		return nil, nil, store.ErrWalletNotFound
	}
	staged := *w
	entry, err := staged.Refund(params.Refund.Amount, &donation.ID, params.Description, params.Refund.RefundedAt)
	if err != nil {
		return nil, nil, err
	}
	*w = staged
	r.ledger[donation.CampaignID] = append(r.ledger[donation.CampaignID], entry)
	r.reverseRaisedLocked(&donation)
	if donation.DonorID != nil && r.statsDone[donation.ID] {
		if u, ok := r.users[*donation.DonorID]; ok {
			u.TotalDonated -= donation.Amount
			u.TotalDonations--
		}
	}
	r.donations[donation.ID] = &donation
	r.actions = append(r.actions, params.Action)
	copied := donation
	return &copied, &entry, nil
}

func (r *memRepo) ListUncreditedSettlements(ctx context.Context, limit int) ([]domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Donation, 0)
	for _, d := range r.donations {
		if d.PaymentStatus == domain.PaymentStatusSuccess && (!d.IsCommitment() || d.Review.PaymentReceived) && r.creditLocked(d.ID) == nil {
			out = append(out, *d)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListPendingDonorStats(ctx context.Context, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uuid.UUID, 0)
	for _, d := range r.donations {
		if d.PaymentStatus == domain.PaymentStatusSuccess && d.DonorID != nil && !r.statsDone[d.ID] {
			out = append(out, d.ID)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesActor(d *domain.Donation, key domain.ActorKey) bool {
	switch key.Kind {
	case domain.ActorKindDonor:
		return d.DonorID != nil && d.DonorID.String() == key.Value
	case domain.ActorKindEmail:
		return domain.NormalizeEmail(d.DonorEmail) == domain.NormalizeEmail(key.Value)
	case domain.ActorKindIP:
		return d.Fraud.IPAddress == key.Value
	}
	return false
}

func (r *memRepo) CountDonationsSince(ctx context.Context, key domain.ActorKey, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, d := range r.donations {
		if matchesActor(d, key) && !d.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) HasDonationWithAmountSince(ctx context.Context, key domain.ActorKey, amount int64, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.donations {
		if matchesActor(d, key) && d.Amount == amount && !d.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) AverageDonationAmount(ctx context.Context, campaignID uuid.UUID) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum, n int64
	for _, d := range r.donations {
		if d.CampaignID != campaignID || d.PaymentStatus == domain.PaymentStatusFailed || d.PaymentStatus == domain.PaymentStatusCancelled {
			continue
		}
		sum += d.Amount
		n++
	}
	if n == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)), nil
}

func (r *memRepo) LastDonationAt(ctx context.Context, key domain.ActorKey) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, d := range r.donations {
		if matchesActor(d, key) && (last == nil || d.CreatedAt.After(*last)) {
			at := d.CreatedAt
			last = &at
		}
	}
	return last, nil
}

func (r *memRepo) AddFunds(ctx context.Context, params store.LedgerEntryParams) (*domain.WalletTransaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addFundsCalls++
	if r.addFundsErr != nil {
		return nil, false, r.addFundsErr
	}
	if params.DonationID != nil {
		if existing := r.creditLocked(*params.DonationID); existing != nil {
			return existing, false, nil
		}
	}
	w, ok := r.wallets[params.CampaignID]
	if !ok {
		w = domain.NewCampaignWallet(params.CampaignID, params.Now)
		r.wallets[params.CampaignID] = w
	}
	entry, err := w.AddFunds(params.Amount, params.DonationID, params.Description, params.Now)
	if err != nil {
		return nil, false, err
	}
	r.ledger[params.CampaignID] = append(r.ledger[params.CampaignID], entry)
	return &entry, true, nil
}

func (r *memRepo) FindWalletByCampaignID(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[campaignID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (r *memRepo) ListWalletTransactions(ctx context.Context, campaignID uuid.UUID, limit int, offset int) ([]domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.ledger[campaignID]
	out := make([]domain.WalletTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	if offset >= len(out) {
		return []domain.WalletTransaction{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) LoadWalletLedger(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignWallet, []domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[campaignID]
	if !ok {
		return nil, nil, store.ErrWalletNotFound
	}
	copied := *w
	return &copied, append([]domain.WalletTransaction(nil), r.ledger[campaignID]...), nil
}

func (r *memRepo) ListWalletCampaignIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.wallets))
	for id := range r.wallets {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memRepo) CreateWithdrawalRequest(ctx context.Context, request *domain.WithdrawalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.campaigns[request.CampaignID]; !ok {
		return store.ErrCampaignNotFound
	}
	copied := *request
	r.withdrawals[request.ID] = &copied
	return nil
}

func (r *memRepo) FindWithdrawalByID(ctx context.Context, withdrawalID uuid.UUID) (*domain.WithdrawalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[withdrawalID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	copied := *w
	return &copied, nil
}

func (r *memRepo) ListWithdrawalsByCampaign(ctx context.Context, campaignID uuid.UUID) ([]domain.WithdrawalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WithdrawalRequest, 0)
	for _, w := range r.withdrawals {
		if w.CampaignID == campaignID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateWithdrawalReview(ctx context.Context, request *domain.WithdrawalRequest, expected domain.WithdrawalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.withdrawals[request.ID]
	if !ok || current.Status != expected {
		return store.ErrConcurrentUpdate
	}
	copied := *request
	r.withdrawals[request.ID] = &copied
	return nil
}

func (r *memRepo) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, now time.Time) (*domain.WithdrawalRequest, *domain.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.withdrawals[withdrawalID]
	if !ok {
		return nil, nil, store.ErrWithdrawalNotFound
	}
	if current.Status != domain.WithdrawalApproved {
		return nil, nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidWithdrawalTransition, current.Status, domain.WithdrawalProcessed)
	}
	w, ok := r.wallets[current.CampaignID]
	if !ok {
		return nil, nil, store.ErrWalletNotFound
	}
	staged := *w
	request := *current
	entry, err := staged.WithdrawFunds(request.Amount, &request.ID, "Withdrawal", now)
	if err != nil {
		return nil, nil, err
	}
	if err := request.MarkProcessed(entry.ID, now); err != nil {
		return nil, nil, err
	}
	*w = staged
	r.ledger[request.CampaignID] = append(r.ledger[request.CampaignID], entry)
	r.withdrawals[request.ID] = &request
	copied := request
	return &copied, &entry, nil
}

// gatewayStub is a scripted payment gateway.
type gatewayStub struct {
	mu          sync.Mutex
	createErr   error
	fetchErr    error
	verifyErr   error
	method      string
	orders      int
	lastReceipt string
	lastAmount  int64
}

func (g *gatewayStub) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*gatewayclient.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orders++
	g.lastReceipt = receipt
	g.lastAmount = amountMinor
	return &gatewayclient.Order{ID: fmt.Sprintf("order_%d", g.orders), Amount: amountMinor, Currency: currency, Receipt: receipt, Status: "created"}, nil
}

func (g *gatewayStub) FetchPayment(ctx context.Context, paymentID string) (*gatewayclient.Payment, error) {
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return &gatewayclient.Payment{ID: paymentID, Method: g.method, Status: "captured", Captured: true}, nil
}

func (g *gatewayStub) VerifyPaymentSignature(orderID, paymentID, signature string) error {
	if g.verifyErr != nil {
		return g.verifyErr
	}
	if signature != "sig_"+orderID+"_"+paymentID {
		return gatewayclient.ErrSignatureMismatch
	}
	return nil
}

func (g *gatewayStub) PublicKeyID() string { return "rzp_test_key" }

func validSignature(orderID, paymentID string) string {
	return "sig_" + orderID + "_" + paymentID
}

// publisherStub records published events.
type publisherStub struct {
	mu          sync.Mutex
	donations   []domain.DonationEvent
	withdrawals []domain.WithdrawalEvent
	err         error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return p.err
}

func (p *publisherStub) PublishDonationEvent(ctx context.Context, event domain.DonationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.donations = append(p.donations, event)
	return p.err
}

func (p *publisherStub) PublishWithdrawalEvent(ctx context.Context, event domain.WithdrawalEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.withdrawals = append(p.withdrawals, event)
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) donationEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.donations))
	for _, e := range p.donations {
		types = append(types, e.EventType)
	}
	return types
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	repo      *memRepo
	gateway   *gatewayStub
	publisher *publisherStub
	clock     *testClock
	svc       *Service
}

func newTestEnv() *testEnv {
	repo := newMemRepo()
	gateway := &gatewayStub{method: "upi"}
	publisher := &publisherStub{}
	clock := newTestClock()
	svc := NewService(repo, gateway, publisher, Settings{
		Currency:           "INR",
		PlatformFeePercent: decimal.NewFromInt(2),
	})
	svc.SetClock(clock.Now)
	return &testEnv{repo: repo, gateway: gateway, publisher: publisher, clock: clock, svc: svc}
}

var errBoom = errors.New("boom")

package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RiskLevel is the four-band classification derived from a fraud score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// MaxFraudScore is the upper bound of a reported score.
const MaxFraudScore = 100

// RiskLevelForScore maps a score onto its band.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 70:
		return RiskLevelCritical
	case score >= 50:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Actor identifies who is donating. Authenticated donors carry a DonorID;
// guests are identified by email (when given) and always by IP address.
type Actor struct {
	DonorID   *uuid.UUID
	Email     string
	IPAddress string
}

// IsGuest reports whether the actor is not authenticated.
func (a Actor) IsGuest() bool {
	return a.DonorID == nil
}

// ActorKind names the column an ActorKey refers to.
type ActorKind string

const (
	ActorKindDonor ActorKind = "donor"
	ActorKindEmail ActorKind = "email"
	ActorKindIP    ActorKind = "ip"
)

// ActorKey is a single lookup key for rate limiting and duplicate detection.
type ActorKey struct {
	Kind  ActorKind
	Value string
}

func (k ActorKey) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.Value)
}

// IsZero reports whether the key carries no value.
func (k ActorKey) IsZero() bool {
	return strings.TrimSpace(k.Value) == ""
}

// VelocityKey is the donor id for authenticated flows and the IP address for guests.
func (a Actor) VelocityKey() ActorKey {
	if a.DonorID != nil {
		return ActorKey{Kind: ActorKindDonor, Value: a.DonorID.String()}
	}
	return ActorKey{Kind: ActorKindIP, Value: strings.TrimSpace(a.IPAddress)}
}

// IdentityKey is the most specific key available: donor, then email, then IP.
func (a Actor) IdentityKey() ActorKey {
	if a.DonorID != nil {
		return ActorKey{Kind: ActorKindDonor, Value: a.DonorID.String()}
	}
	if email := NormalizeEmail(a.Email); email != "" {
		return ActorKey{Kind: ActorKindEmail, Value: email}
	}
	return ActorKey{Kind: ActorKindIP, Value: strings.TrimSpace(a.IPAddress)}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FraudAssessment is the output of the fraud evaluator.
type FraudAssessment struct {
	Score                  int       `json:"score"`
	RawScore               int       `json:"raw_score"`
	RiskLevel              RiskLevel `json:"risk_level"`
	Reasons                []string  `json:"reasons"`
	DonationCountFromIP    int       `json:"donation_count_from_ip"`
	DonationCountFromDonor int       `json:"donation_count_from_donor"`
	DuplicateAmount        bool      `json:"duplicate_amount"`
	AmountAnomaly          bool      `json:"amount_anomaly"`
}

// ReasonSummary concatenates every triggered signal label for audit.
func (a FraudAssessment) ReasonSummary() string {
	return strings.Join(a.Reasons, "; ")
}

// IsSuspicious flags assessments in the high and critical bands.
func (a FraudAssessment) IsSuspicious() bool {
	return a.RiskLevel == RiskLevelHigh || a.RiskLevel == RiskLevelCritical
}

// Snapshot converts an assessment into the fields persisted on a donation.
func (a FraudAssessment) Snapshot(ipAddress string, secondsSinceLast int64, velocityPassed bool) FraudSnapshot {
	snapshot := FraudSnapshot{
		IPAddress:              ipAddress,
		FraudScore:             a.Score,
		RiskLevel:              a.RiskLevel,
		IsSuspicious:           a.IsSuspicious(),
		DonationCountFromIP:    a.DonationCountFromIP,
		DonationCountFromDonor: a.DonationCountFromDonor,
		TimeSinceLastDonation:  secondsSinceLast,
		AmountAnomaly:          a.AmountAnomaly,
		VelocityCheck:          velocityPassed,
	}
	if snapshot.IsSuspicious {
		snapshot.SuspiciousReason = a.ReasonSummary()
	}
	return snapshot
}

package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestRiskLevelForScoreBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{0, RiskLevelLow},
		{29, RiskLevelLow},
		{30, RiskLevelMedium},
		{49, RiskLevelMedium},
		{50, RiskLevelHigh},
		{69, RiskLevelHigh},
		{70, RiskLevelCritical},
		{100, RiskLevelCritical},
	}
	for _, tt := range tests {
		if got := RiskLevelForScore(tt.score); got != tt.want {
			t.Fatalf("RiskLevelForScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestActorKeys(t *testing.T) {
	donorID := uuid.New()
	donor := Actor{DonorID: &donorID, Email: "a@example.com", IPAddress: "10.0.0.1"}
	if key := donor.VelocityKey(); key.Kind != ActorKindDonor || key.Value != donorID.String() {
		t.Fatalf("expected donor velocity key, got %v", key)
	}

	guest := Actor{Email: " Guest@Example.com ", IPAddress: "10.0.0.2"}
	if key := guest.VelocityKey(); key.Kind != ActorKindIP || key.Value != "10.0.0.2" {
		t.Fatalf("expected ip velocity key for guest, got %v", key)
	}
	if key := guest.IdentityKey(); key.Kind != ActorKindEmail || key.Value != "guest@example.com" {
		t.Fatalf("expected normalized email identity key, got %v", key)
	}

	anonymous := Actor{IPAddress: "10.0.0.3"}
	if key := anonymous.IdentityKey(); key.Kind != ActorKindIP {
		t.Fatalf("expected ip identity key, got %v", key)
	}
}

func TestSnapshotOnlyExplainsSuspiciousAssessments(t *testing.T) {
	low := FraudAssessment{Score: 10, RiskLevel: RiskLevelLow, Reasons: []string{"duplicate amount"}}
	if snap := low.Snapshot("1.1.1.1", 120, true); snap.IsSuspicious || snap.SuspiciousReason != "" {
		t.Fatalf("expected non-suspicious snapshot, got %+v", snap)
	}

	high := FraudAssessment{Score: 55, RiskLevel: RiskLevelHigh, Reasons: []string{"a", "b"}}
	snap := high.Snapshot("1.1.1.1", 120, true)
	if !snap.IsSuspicious || snap.SuspiciousReason != "a; b" {
		t.Fatalf("expected suspicious snapshot with joined reasons, got %+v", snap)
	}
}

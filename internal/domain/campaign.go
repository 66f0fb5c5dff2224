package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCampaignGoalReached   = errors.New("campaign goal has been reached")
	ErrAmountExceedsHeadroom = errors.New("donation amount exceeds the remaining campaign goal")
)

const (
	// raisedCapPercent is the share of the goal past which new orders are refused.
	raisedCapPercent = 105
	// requestSlackPercent is the allowed overshoot of a single request over the remaining goal.
	requestSlackPercent = 110
	// overfundSlackPercent bounds a single request once the goal itself has been met.
	overfundSlackPercent = 10
)

// Campaign is the subset of the campaign aggregate the donation core reads and updates.
type Campaign struct {
	ID           uuid.UUID `json:"id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	Title        string    `json:"title"`
	GoalAmount   int64     `json:"goal_amount"`
	RaisedAmount int64     `json:"raised_amount"`
	Contributors int       `json:"contributors"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HeadroomError reports the largest amount the campaign would currently accept.
type HeadroomError struct {
	Requested   int64
	MaxAllowed  int64
	GoalReached bool
}

func (e *HeadroomError) Error() string {
	base := ErrAmountExceedsHeadroom
	if e.GoalReached {
		base = ErrCampaignGoalReached
	}
	return fmt.Sprintf("%s: requested %d, maximum allowed %d", base, e.Requested, e.MaxAllowed)
}

func (e *HeadroomError) Is(target error) bool {
	if e.GoalReached {
		return target == ErrCampaignGoalReached
	}
	return target == ErrAmountExceedsHeadroom
}

// CheckOrderHeadroom gates new gateway orders. Orders stop once raised funds reach 105%
// of the goal. While the goal is open a single request may exceed the remaining amount
// by at most 10%; once the goal is met a request may add at most 10% of the goal on
// top of the 105% cap.
func (c Campaign) CheckOrderHeadroom(amount int64) error {
	if c.GoalAmount <= 0 {
		return nil
	}
	if c.RaisedAmount*100 >= c.GoalAmount*raisedCapPercent {
		return ErrCampaignGoalReached
	}
	remaining := c.GoalAmount - c.RaisedAmount
	if remaining > 0 {
		if amount*100 > remaining*requestSlackPercent {
			return &HeadroomError{Requested: amount, MaxAllowed: remaining * requestSlackPercent / 100}
		}
		return nil
	}
	limit := c.GoalAmount * (raisedCapPercent + overfundSlackPercent)
	if (c.RaisedAmount+amount)*100 > limit {
		return &HeadroomError{
			Requested:   amount,
			MaxAllowed:  (limit - c.RaisedAmount*100) / 100,
			GoalReached: true,
		}
	}
	return nil
}

// User is the slice of a user row the donation core needs.
type User struct {
	ID             uuid.UUID  `json:"id"`
	AuthSubject    string     `json:"-"`
	Email          string     `json:"email"`
	FullName       *string    `json:"full_name,omitempty"`
	TotalDonated   int64      `json:"total_donated"`
	TotalDonations int        `json:"total_donations"`
	LastDonationAt *time.Time `json:"last_donation_at,omitempty"`
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
	"github.com/Montivagant/rmsv3-sub002/internal/ledger"
)

var (
	// ErrLoyaltyInvalidInput signals malformed loyalty arguments.
	ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")
	// ErrLoyaltyInsufficient is returned when a redemption exceeds the
	// customer's projected balance.
	ErrLoyaltyInsufficient = errors.New("loyalty: insufficient points")
)

// DefaultPointsPerCurrencyUnit awards one point per whole currency unit of
// the finalized sale total.
const DefaultPointsPerCurrencyUnit = 1

// LoyaltyServiceDeps bundles the collaborators required to construct a
// loyaltyService.
type LoyaltyServiceDeps struct {
	Store *ledger.Store
	// PointsPerUnit is the accrual rate per whole currency unit. Zero means
	// DefaultPointsPerCurrencyUnit.
	PointsPerUnit int64
}

type loyaltyService struct {
	store         *ledger.Store
	pointsPerUnit int64
}

// NewLoyaltyService wires dependencies into a LoyaltyService.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Store == nil {
		return nil, errors.New("loyalty service: ledger store is required")
	}
	rate := deps.PointsPerUnit
	if rate == 0 {
		rate = DefaultPointsPerCurrencyUnit
	}
	if rate < 0 {
		return nil, errors.New("loyalty service: points per unit cannot be negative")
	}
	return &loyaltyService{store: deps.Store, pointsPerUnit: rate}, nil
}

// Accrue awards points for a finalized sale. The award is idempotent per
// ticket so a replayed finalization cannot double-count.
func (s *loyaltyService) Accrue(ctx context.Context, customerID, ticketID string, value domain.Cents) (int64, error) {
	customerID = strings.TrimSpace(customerID)
	ticketID = strings.TrimSpace(ticketID)
	if customerID == "" || ticketID == "" {
		return 0, fmt.Errorf("%w: customer and ticket ids are required", ErrLoyaltyInvalidInput)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: sale value cannot be negative", ErrLoyaltyInvalidInput)
	}

	points := int64(value) / 100 * s.pointsPerUnit
	if points == 0 {
		return 0, nil
	}

	payload := domain.LoyaltyAccrued{
		CustomerID: customerID,
		TicketID:   ticketID,
		Points:     points,
		Value:      value,
	}
	_, err := s.store.Append(ctx, domain.EventLoyaltyAccrued, payload, ledger.AppendOptions{
		Key:       fmt.Sprintf("loyalty:%s:%s:accrue", customerID, ticketID),
		Aggregate: domain.AggregateRef{ID: customerID, Type: "customer"},
	})
	if err != nil {
		return 0, fmt.Errorf("accrue points: %w", err)
	}
	return points, nil
}

// Redeem burns points against a sale after checking the projected balance.
func (s *loyaltyService) Redeem(ctx context.Context, customerID, ticketID string, points int64, value domain.Cents) error {
	customerID = strings.TrimSpace(customerID)
	ticketID = strings.TrimSpace(ticketID)
	if customerID == "" || ticketID == "" {
		return fmt.Errorf("%w: customer and ticket ids are required", ErrLoyaltyInvalidInput)
	}
	if points <= 0 {
		return fmt.Errorf("%w: redeemed points must be positive", ErrLoyaltyInvalidInput)
	}

	balance, err := s.Balance(ctx, customerID)
	if err != nil {
		return err
	}
	if points > balance {
		return fmt.Errorf("%w: have %d, want %d", ErrLoyaltyInsufficient, balance, points)
	}

	payload := domain.LoyaltyRedeemed{
		CustomerID: customerID,
		TicketID:   ticketID,
		Points:     points,
		Value:      value,
	}
	_, err = s.store.Append(ctx, domain.EventLoyaltyRedeemed, payload, ledger.AppendOptions{
		Key:       fmt.Sprintf("loyalty:%s:%s:redeem", customerID, ticketID),
		Aggregate: domain.AggregateRef{ID: customerID, Type: "customer"},
	})
	if err != nil {
		return fmt.Errorf("redeem points: %w", err)
	}
	return nil
}

// Balance folds the customer's accrual and redemption history into the
// current point total.
func (s *loyaltyService) Balance(ctx context.Context, customerID string) (int64, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, fmt.Errorf("%w: customer id is required", ErrLoyaltyInvalidInput)
	}

	events, err := s.store.EventsByAggregate(ctx, customerID)
	if err != nil {
		return 0, fmt.Errorf("load customer history: %w", err)
	}

	var balance int64
	for _, event := range events {
		switch p := payloadValue(event.Payload).(type) {
		case domain.LoyaltyAccrued:
			balance += p.Points
		case domain.LoyaltyRedeemed:
			balance -= p.Points
		}
	}
	return balance, nil
}

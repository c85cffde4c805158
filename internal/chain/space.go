package chain

import (
	"context"
	"fmt"
	"math/big"
)

// SubscriptionRecord is the raw on-chain subscription state for an address
// at a single plan index. Amount stays a big.Int; callers that persist it
// convert to a decimal string.
type SubscriptionRecord struct {
	PlanID    int64
	StartTime int64
	Duration  int64
	Amount    *big.Int
}

// SpaceContract reads subscription state from the deployed Space contract.
type SpaceContract struct {
	client       *Client
	contractHash string
	nameHash     string
}

// NewSpaceContract creates a Space contract reader. nameHash is the
// optional name-service contract used for reverse name lookups.
func NewSpaceContract(client *Client, contractHash, nameHash string) *SpaceContract {
	return &SpaceContract{
		client:       client,
		contractHash: contractHash,
		nameHash:     nameHash,
	}
}

// GetSubscription returns the subscription record for an address at the
// given plan index. The contract returns a struct of
// (planId, startTime, duration, amount).
func (s *SpaceContract) GetSubscription(ctx context.Context, planIndex int64, address string) (*SubscriptionRecord, error) {
	params := []ContractParam{
		NewIntegerParam(planIndex),
		NewHash160Param(address),
	}
	result, err := s.client.InvokeFunction(ctx, s.contractHash, "getSubscription", params)
	if err != nil {
		return nil, err
	}
	if result.State != "HALT" {
		return nil, fmt.Errorf("execution failed: %s", result.Exception)
	}
	if len(result.Stack) == 0 {
		return nil, fmt.Errorf("no result")
	}

	fields, err := ParseArray(result.Stack[0])
	if err != nil {
		return nil, fmt.Errorf("parse subscription: %w", err)
	}
	if len(fields) < 4 {
		return nil, fmt.Errorf("subscription struct has %d fields, want 4", len(fields))
	}

	planID, err := ParseInteger(fields[0])
	if err != nil {
		return nil, fmt.Errorf("parse planId: %w", err)
	}
	startTime, err := ParseInteger(fields[1])
	if err != nil {
		return nil, fmt.Errorf("parse startTime: %w", err)
	}
	duration, err := ParseInteger(fields[2])
	if err != nil {
		return nil, fmt.Errorf("parse duration: %w", err)
	}
	amount, err := ParseInteger(fields[3])
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}

	return &SubscriptionRecord{
		PlanID:    planID.Int64(),
		StartTime: startTime.Int64(),
		Duration:  duration.Int64(),
		Amount:    amount,
	}, nil
}

// ResolveName looks up the name-service name registered for an address.
// Returns empty when no name service is configured or nothing resolves.
func (s *SpaceContract) ResolveName(ctx context.Context, address string) (string, error) {
	if s.nameHash == "" {
		return "", nil
	}
	params := []ContractParam{NewHash160Param(address)}
	result, err := s.client.InvokeFunction(ctx, s.nameHash, "resolveAddress", params)
	if err != nil {
		return "", err
	}
	if result.State != "HALT" || len(result.Stack) == 0 {
		return "", nil
	}
	return ParseString(result.Stack[0])
}

package engine

import (
	"context"

	"pses-auth/internal/identity/domain"
)

// HintResetAccount is the account a hint-based reset would overwrite.
type HintResetAccount struct {
	Username   string
	ExternalID string
	Email      string
	Verified   bool
}

// HintResetInput is everything the hint-reset policy may look at.
type HintResetInput struct {
	Identity  *domain.ExternalIdentity
	Account   HintResetAccount
	HintEmail string
	HintUser  string
}

// Evaluator decides whether a lower-assurance password reset may proceed.
type Evaluator interface {
	// AllowHintReset reports whether the caller's external identity is sufficient proof
	// of ownership of the target account. Evaluation failures deny.
	AllowHintReset(ctx context.Context, in HintResetInput) (bool, error)
}

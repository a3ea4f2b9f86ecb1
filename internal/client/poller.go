package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often the verification poller checks the identity.
const DefaultPollInterval = 4 * time.Second

// ErrFinalizeInProgress is returned by Finalize when another finalize call from the same poller is running.
var ErrFinalizeInProgress = errors.New("finalize already in progress")

// VerificationPoller waits for the external identity to become verified and then finalizes the
// pending signup.
type VerificationPoller struct {
	Client   *Client
	Identity IdentitySource
	// Verified decides whether a token is worth finalizing with. Defaults to EmailVerified.
	Verified func(idToken string) bool
	Interval time.Duration
	Delays   []time.Duration
	Logger   *slog.Logger

	finalizing sync.Mutex
}

// Run polls until finalize succeeds, finalize fails permanently, or ctx ends.
func (p *VerificationPoller) Run(ctx context.Context, req FinalizeRequest) (*FinalizeResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, done, err := p.attempt(ctx, req)
		if done {
			return res, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// attempt reports done=true when polling should stop.
func (p *VerificationPoller) attempt(ctx context.Context, req FinalizeRequest) (*FinalizeResult, bool, error) {
	token, err := FetchIDToken(ctx, p.Identity, p.Delays)
	if err != nil {
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		p.logger().Debug("verification poll: no identity token", "error", err)
		return nil, false, nil
	}
	verified := p.Verified
	if verified == nil {
		verified = EmailVerified
	}
	if !verified(token) {
		return nil, false, nil
	}
	res, err := p.Finalize(ctx, token, req)
	switch {
	case err == nil:
		return res, true, nil
	case errors.Is(err, ErrFinalizeInProgress), IsCode(err, "NOT_VERIFIED"), IsCode(err, "UPSTREAM_UNAVAILABLE"):
		return nil, false, nil
	}
	return nil, true, err
}

// Finalize calls the API unless a finalize from this poller is already running.
func (p *VerificationPoller) Finalize(ctx context.Context, idToken string, req FinalizeRequest) (*FinalizeResult, error) {
	if !p.finalizing.TryLock() {
		return nil, ErrFinalizeInProgress
	}
	defer p.finalizing.Unlock()
	return p.Client.Finalize(ctx, idToken, req)
}

func (p *VerificationPoller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

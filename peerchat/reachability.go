package peerchat

import (
	"context"
	"log/slog"
	"time"
)

type ReachabilityOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// ReachabilityChecker asks the network client whether a literal address is
// provisioned to receive messages. It keeps no cache.
type ReachabilityChecker struct {
	prober ReachabilityProber
	opts   ReachabilityOptions
}

func NewReachabilityChecker(prober ReachabilityProber, opts ReachabilityOptions) *ReachabilityChecker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReachTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ReachabilityChecker{prober: prober, opts: opts}
}

// Check reports Reachable or Unreachable. A probe failure reports Unknown with
// the error. Non-literal input is rejected without contacting the network.
func (c *ReachabilityChecker) Check(ctx context.Context, address string) (Reachability, error) {
	if !IsLiteralAddress(address) {
		return ReachabilityUnknown, WrapError(ErrValidation, "reachability requires a literal address, got %q", address)
	}
	if c.prober == nil {
		return ReachabilityUnknown, WrapError(ErrUnreachable, "no network client configured")
	}
	checkCtx, cancel := withTimeoutIfNeeded(ctx, c.opts.Timeout)
	defer cancel()

	ok, err := c.prober.IsReachable(checkCtx, NormalizeAddress(address))
	if err != nil {
		c.opts.Logger.Warn("reachability check failed", "peer_address", address, "err", err)
		return ReachabilityUnknown, err
	}
	if !ok {
		return ReachabilityUnreachable, nil
	}
	return ReachabilityReachable, nil
}

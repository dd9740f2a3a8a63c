package peerchat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type ResolverOptions struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolution is the outcome of one name lookup. Ticket identifies the request
// that produced it.
type Resolution struct {
	Ticket  uint64
	Name    string
	Address ResolvedAddress
	Err     error
}

// NameResolver wraps a NameService with request supersession: only the most
// recently issued request may deliver its outcome.
type NameResolver struct {
	names NameService
	opts  ResolverOptions

	mu     sync.Mutex
	latest uint64
	cancel context.CancelFunc
}

func NewNameResolver(names NameService, opts ResolverOptions) *NameResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResolveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &NameResolver{names: names, opts: opts}
}

// Resolve performs a lookup as the latest request. The returned flag is false
// when a newer request was issued before this one completed; such a result
// must be discarded.
func (r *NameResolver) Resolve(ctx context.Context, name string) (Resolution, bool) {
	return r.Start(ctx, name).Wait()
}

// Start issues a request and makes it the latest one, cancelling any earlier
// request still in flight. The lookup itself runs in Wait.
func (r *NameResolver) Start(ctx context.Context, name string) *PendingResolution {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest++
	if r.cancel != nil {
		r.cancel()
	}
	lookupCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	return &PendingResolution{r: r, ctx: lookupCtx, cancel: cancel, ticket: r.latest, name: name}
}

// PendingResolution is an issued request whose outcome has not been read.
type PendingResolution struct {
	r      *NameResolver
	ctx    context.Context
	cancel context.CancelFunc
	ticket uint64
	name   string
}

func (p *PendingResolution) Ticket() uint64 {
	return p.ticket
}

// Wait runs the lookup and reports whether the request is still the latest.
func (p *PendingResolution) Wait() (Resolution, bool) {
	defer p.cancel()
	address, err := p.r.Lookup(p.ctx, p.name)
	result := Resolution{Ticket: p.ticket, Name: p.name, Address: address, Err: err}
	if !p.r.Current(p.ticket) {
		p.r.opts.Logger.Debug("discard superseded resolution", "name", p.name, "ticket", p.ticket)
		return result, false
	}
	return result, true
}

// Current reports whether ticket belongs to the latest issued request.
func (r *NameResolver) Current(ticket uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ticket == r.latest
}

// Cancel supersedes any request in flight without issuing a new one.
func (r *NameResolver) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Lookup performs one synchronous resolution attempt. Not-found and provider
// failures stay distinguishable through ErrNameNotFound and ErrResolution.
func (r *NameResolver) Lookup(ctx context.Context, name string) (ResolvedAddress, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ResolvedAddress{}, WrapError(ErrValidation, "name is required")
	}
	if r.names == nil {
		return ResolvedAddress{}, WrapError(ErrResolution, "no name service configured")
	}
	lookupCtx, cancel := withTimeoutIfNeeded(ctx, r.opts.Timeout)
	defer cancel()

	raw, err := r.names.ResolveName(lookupCtx, name)
	if err != nil {
		switch {
		case errors.Is(err, ErrNameNotFound):
			r.opts.Logger.Debug("name not found", "name", name)
			return ResolvedAddress{}, err
		case errors.Is(err, ErrResolution):
			r.opts.Logger.Warn("name resolution failed", "name", name, "err", err)
			return ResolvedAddress{}, err
		default:
			r.opts.Logger.Warn("name resolution failed", "name", name, "err", err)
			return ResolvedAddress{}, WrapCause(ErrResolution, err, "resolve %s", name)
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ResolvedAddress{}, WrapError(ErrNameNotFound, "%s has no address", name)
	}
	if !IsLiteralAddress(raw) {
		return ResolvedAddress{}, WrapError(ErrResolution, "%s resolved to malformed address %q", name, raw)
	}
	return AddressResolvedFrom(raw, name), nil
}

func withTimeoutIfNeeded(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

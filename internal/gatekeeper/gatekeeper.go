// Package gatekeeper decides whether a user may join a session based on how
// many distinct owners already share it.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"sharedcal/internal/metrics"
	"sharedcal/internal/models"
	"sharedcal/internal/remote"
)

const (
	// DefaultCapacity is the number of owners a session holds.
	DefaultCapacity = 2
	// DefaultSampleSize is how many session documents are read to find owners.
	DefaultSampleSize = 50
)

// Reason explains an availability decision.
type Reason int

const (
	WelcomeBack Reason = iota + 1
	Available
	Full
	Unreachable
)

func (r Reason) String() string {
	switch r {
	case WelcomeBack:
		return "welcome_back"
	case Available:
		return "available"
	case Full:
		return "full"
	case Unreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Decision is the outcome of an availability check.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Owners   []string // Distinct owners seen in the session sample
	Capacity int
	Err      error // Set for Full and Unreachable
}

// Message renders the decision as a status line.
func (d Decision) Message() string {
	switch d.Reason {
	case WelcomeBack:
		return "Welcome back! Rejoining session."
	case Available:
		return fmt.Sprintf("Room available (%d/%d). Joining session.", len(d.Owners)+1, d.Capacity)
	case Full:
		return fmt.Sprintf("This session is full (%d/%d people).", len(d.Owners), d.Capacity)
	case Unreachable:
		return "Could not reach the server. Check your connection and try again."
	default:
		return ""
	}
}

// Gatekeeper enforces the owner capacity of sessions.
type Gatekeeper struct {
	store      remote.Store
	logger     *slog.Logger
	collection string
	capacity   int
	sampleSize int
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithCapacity sets the maximum number of distinct owners per session.
func WithCapacity(n int) Option {
	return func(g *Gatekeeper) {
		if n > 0 {
			g.capacity = n
		}
	}
}

// WithSampleSize sets how many session documents one check reads.
func WithSampleSize(n int) Option {
	return func(g *Gatekeeper) {
		if n > 0 {
			g.sampleSize = n
		}
	}
}

// WithCollection overrides the collection records are read from.
func WithCollection(name string) Option {
	return func(g *Gatekeeper) {
		g.collection = name
	}
}

// New creates a Gatekeeper reading session records from store.
func New(logger *slog.Logger, store remote.Store, opts ...Option) *Gatekeeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gatekeeper{
		store:      store,
		logger:     logger,
		collection: remote.Collection,
		capacity:   DefaultCapacity,
		sampleSize: DefaultSampleSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Capacity returns the configured owner capacity.
func (g *Gatekeeper) Capacity() int {
	return g.capacity
}

// Evaluate applies the admission policy to a known owner set. Rejoining is
// always allowed, even when the session is at or over capacity.
func (g *Gatekeeper) Evaluate(requesterID string, existingOwnerIDs []string) Decision {
	owners := distinct(existingOwnerIDs)
	d := Decision{Owners: owners, Capacity: g.capacity}

	switch {
	case slices.Contains(owners, requesterID):
		d.Allowed, d.Reason = true, WelcomeBack
	case len(owners) < g.capacity:
		d.Allowed, d.Reason = true, Available
	default:
		d.Reason = Full
		d.Err = models.ErrSessionFull
	}
	return d
}

// CheckAvailability reads one page of the session's records and evaluates
// whether requesterID may join. A failed query yields Unreachable, never Full.
func (g *Gatekeeper) CheckAvailability(ctx context.Context, sessionCode, requesterID string) Decision {
	g.logger.Debug("Checking session capacity", "session", sessionCode, "sample", g.sampleSize)

	docs, err := g.store.Query(ctx, g.collection, remote.FieldSessionCode, sessionCode, g.sampleSize)
	if err != nil {
		g.logger.Error("Could not query session", "session", sessionCode, "error", err)
		d := Decision{
			Reason:   Unreachable,
			Capacity: g.capacity,
			Err:      fmt.Errorf("%w: %w", models.ErrRemoteUnreachable, err),
		}
		metrics.ObserveGatekeeper(d.Reason.String())
		return d
	}

	records := remote.DecodeRecords(g.logger, docs)
	owners := make([]string, 0, len(records))
	for _, r := range records {
		owners = append(owners, r.OwnerID)
	}

	d := g.Evaluate(requesterID, owners)
	g.logger.Info("Session availability checked", "session", sessionCode, "reason", d.Reason, "owners", len(d.Owners))
	metrics.ObserveGatekeeper(d.Reason.String())
	return d
}

// distinct returns the unique non-empty ids in first-seen order.
func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

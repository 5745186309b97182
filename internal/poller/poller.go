// Package poller periodically fetches the live status of the followed
// channels and reports every went-live and went-offline transition exactly
// once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
	"github.com/fldc/twitch-indicator/internal/platform/correlation"
	"github.com/fldc/twitch-indicator/internal/platform/retry"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval  = 2 * time.Minute
	DefaultBatchSize = 100
)

// TokenSource hands out valid access tokens and learns about rejected ones.
type TokenSource interface {
	GetValidToken(ctx context.Context) (domain.Token, error)
	RejectToken(accessToken string)
}

type Options struct {
	Interval  time.Duration
	BatchSize int
	Clock     clockwork.Clock
	// TokenRetry governs retries of transient token refresh failures.
	TokenRetry retry.Policy
	// RateLimitRetry governs retries of API requests the provider throttled.
	RateLimitRetry retry.Policy
}

// DefaultTokenRetry retries a failed refresh twice with backoff before the
// cycle gives up and waits for the next tick.
func DefaultTokenRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     15 * time.Second,
	}
}

// DefaultRateLimitRetry waits out a throttled request twice before the
// request counts as failed.
func DefaultRateLimitRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:      3,
		RateLimitBackoff: 15 * time.Second,
	}
}

// Result is the outcome of one poll cycle. Coalesced results carry nothing.
type Result struct {
	Snapshot  domain.Snapshot
	Events    []domain.NotificationEvent
	Coalesced bool
}

type Handler func(ctx context.Context, res Result, err error)

type Poller struct {
	source     domain.ChannelSource
	tokens     TokenSource
	clock      clockwork.Clock
	interval   time.Duration
	batchSize  int
	tokenRetry retry.Policy
	rateRetry  retry.Policy

	inFlight atomic.Bool
	trigger  chan struct{}

	mu       sync.Mutex
	previous domain.Snapshot
}

func New(source domain.ChannelSource, tokens TokenSource, opts Options) *Poller {
	p := &Poller{
		source:     source,
		tokens:     tokens,
		clock:      opts.Clock,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		tokenRetry: opts.TokenRetry,
		rateRetry:  opts.RateLimitRetry,
		trigger:    make(chan struct{}, 1),
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.batchSize <= 0 || p.batchSize > DefaultBatchSize {
		p.batchSize = DefaultBatchSize
	}
	if p.tokenRetry.MaxAttempts == 0 {
		p.tokenRetry = DefaultTokenRetry()
	}
	if p.tokenRetry.Clock == nil {
		p.tokenRetry.Clock = p.clock
	}
	if p.tokenRetry.OnRetry == nil {
		p.tokenRetry.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Poll: token unavailable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		}
	}
	if p.rateRetry.MaxAttempts == 0 {
		p.rateRetry = DefaultRateLimitRetry()
	}
	if p.rateRetry.Clock == nil {
		p.rateRetry.Clock = p.clock
	}
	if p.rateRetry.OnRetry == nil {
		p.rateRetry.OnRetry = func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Poll: rate limited, waiting", "attempt", attempt, "backoff", backoff, "error", err)
		}
	}
	return p
}

// Previous returns the snapshot the next cycle will be diffed against.
func (p *Poller) Previous() domain.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous
}

// Run polls immediately, then every interval and whenever RefreshNow is
// called, until ctx is cancelled. handler sees every non-coalesced cycle,
// failed ones included; a failed cycle leaves the previous snapshot in place.
func (p *Poller) Run(ctx context.Context, handler Handler) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Poll: loop started", "interval", p.interval)
	p.runCycle(ctx, handler)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Poll: loop stopped")
			return
		case <-ticker.Chan():
			p.runCycle(ctx, handler)
		case <-p.trigger:
			p.runCycle(ctx, handler)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context, handler Handler) {
	cycleCtx := correlation.Start(ctx, correlation.ScopePoll)
	res, err := p.Cycle(cycleCtx)
	if ctx.Err() != nil || res.Coalesced {
		return
	}
	handler(cycleCtx, res, err)
}

// RefreshNow asks the running loop for an immediate cycle. It reports false
// when a cycle is already running or queued.
func (p *Poller) RefreshNow() bool {
	if p.inFlight.Load() {
		return false
	}
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Cycle obtains a token, polls, diffs against the previous snapshot and
// replaces it. A call made while another cycle runs returns a coalesced
// result immediately.
func (p *Poller) Cycle(ctx context.Context) (Result, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.PollCyclesTotal.WithLabelValues("coalesced").Inc()
		slog.DebugContext(ctx, "Poll: cycle already in flight, coalescing")
		return Result{Coalesced: true}, nil
	}
	defer p.inFlight.Store(false)

	if _, ok := correlation.ID(ctx); !ok {
		ctx = correlation.Start(ctx, correlation.ScopePoll)
	}

	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	token, err := retry.Do(ctx, p.tokenRetry, classifyTokenError, func() (domain.Token, error) {
		return p.tokens.GetValidToken(ctx)
	})
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("no_token").Inc()
		return Result{}, fmt.Errorf("%w: %w", domain.ErrPoll, err)
	}

	snap, err := p.PollOnce(ctx, token)
	if err != nil {
		metrics.PollCyclesTotal.WithLabelValues("error").Inc()
		slog.WarnContext(ctx, "Poll: cycle failed, keeping previous snapshot", "error", err)
		return Result{}, err
	}

	p.mu.Lock()
	snap = snap.CarryForward(p.previous)
	events := Diff(p.previous, snap)
	p.previous = snap
	p.mu.Unlock()

	metrics.PollCyclesTotal.WithLabelValues("success").Inc()
	metrics.FollowedChannels.Set(float64(snap.Len()))
	metrics.LiveChannels.Set(float64(snap.LiveCount()))
	metrics.UnknownChannels.Set(float64(snap.UnknownCount()))
	for _, e := range events {
		metrics.TransitionsTotal.WithLabelValues(string(e.Transition)).Inc()
	}

	slog.InfoContext(ctx, "Poll: cycle complete",
		"followed", snap.Len(),
		"live", snap.LiveCount(),
		"unknown", snap.UnknownCount(),
		"events", len(events),
		"duration", time.Since(start),
	)
	return Result{Snapshot: snap, Events: events}, nil
}

func classifyTokenError(err error) retry.Action {
	if errors.Is(err, domain.ErrRetryableAuth) {
		return retry.Retry
	}
	return retry.Stop
}

func classifyRateLimit(err error) retry.Action {
	if errors.Is(err, domain.ErrRateLimited) {
		return retry.After
	}
	return retry.Stop
}

// PollOnce builds a fresh snapshot of the followed channels. Throttled
// requests are retried after a pause. A failing followed-channels request or
// a rejected token fails the poll; any other failed stream batch only marks
// its channels unknown.
func (p *Poller) PollOnce(ctx context.Context, token domain.Token) (domain.Snapshot, error) {
	takenAt := p.clock.Now()

	channels, err := retry.Do(ctx, p.rateRetry, classifyRateLimit, func() ([]domain.Channel, error) {
		return p.source.FollowedChannels(ctx, token)
	})
	if err != nil {
		p.reportRejected(err, token)
		return domain.Snapshot{}, fmt.Errorf("%w: followed channels: %w", domain.ErrPoll, err)
	}

	statuses := make([]domain.ChannelStatus, 0, len(channels))
	index := make(map[string]int, len(channels))
	for _, ch := range channels {
		if _, dup := index[ch.ID]; dup || ch.ID == "" {
			continue
		}
		index[ch.ID] = len(statuses)
		statuses = append(statuses, domain.ChannelStatus{
			ChannelID:   ch.ID,
			Login:       ch.Login,
			DisplayName: ch.DisplayName,
		})
	}

	ids := make([]string, len(statuses))
	for i, st := range statuses {
		ids[i] = st.ChannelID
	}

	for batch := range slices.Chunk(ids, p.batchSize) {
		streams, err := retry.Do(ctx, p.rateRetry, classifyRateLimit, func() ([]domain.Stream, error) {
			return p.source.LiveStreams(ctx, token, batch)
		})
		if err != nil {
			if errors.Is(err, domain.ErrTokenRejected) || ctx.Err() != nil {
				p.reportRejected(err, token)
				return domain.Snapshot{}, fmt.Errorf("%w: streams: %w", domain.ErrPoll, err)
			}
			slog.WarnContext(ctx, "Poll: stream batch failed, status unknown", "channels", len(batch), "error", err)
			for _, id := range batch {
				statuses[index[id]].Unknown = true
			}
			continue
		}

		for _, s := range streams {
			i, ok := index[s.ChannelID]
			if !ok {
				continue
			}
			st := &statuses[i]
			st.Live = true
			st.Title = s.Title
			st.Game = s.Game
			st.ViewerCount = s.ViewerCount
			st.StartedAt = s.StartedAt
			if s.DisplayName != "" {
				st.DisplayName = s.DisplayName
			}
		}
	}

	return domain.NewSnapshot(takenAt, statuses), nil
}

func (p *Poller) reportRejected(err error, token domain.Token) {
	if errors.Is(err, domain.ErrTokenRejected) {
		p.tokens.RejectToken(token.AccessToken)
	}
}

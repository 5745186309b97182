package twitch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/fldc/twitch-indicator/internal/domain"
	"github.com/fldc/twitch-indicator/internal/metrics"
	"github.com/nicklaw5/helix/v2"
	"golang.org/x/time/rate"
)

const (
	HelixBaseURL = "https://api.twitch.tv/helix"

	// MaxIDsPerRequest is the Helix limit for user_id filters and page size.
	MaxIDsPerRequest = 100

	maxFollowedPages  = 200
	breakerComponent  = "helix"
	defaultRatePerSec = 10
	defaultBurst      = 10
)

type HelixOptions struct {
	ClientID string
	// BaseURL overrides https://api.twitch.tv/helix.
	BaseURL           string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// HelixClient implements domain.ChannelSource on top of the Helix API.
// The underlying client holds a single user token, so calls are serialized.
type HelixClient struct {
	mu      sync.Mutex
	client  *helix.Client
	limiter *rate.Limiter
	breaker circuitbreaker.CircuitBreaker[any]
}

var _ domain.ChannelSource = (*HelixClient)(nil)

func NewHelixClient(o HelixOptions) (*HelixClient, error) {
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpCallTimeout}
	}

	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = HelixBaseURL
	}

	client, err := helix.NewClient(&helix.Options{
		ClientID:   o.ClientID,
		APIBaseURL: baseURL,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}

	rps := o.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRatePerSec
	}

	return &HelixClient{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), defaultBurst),
		breaker: newBreaker(),
	}, nil
}

// newBreaker opens after 5 consecutive server-side failures and probes again after 30s.
func newBreaker() circuitbreaker.CircuitBreaker[any] {
	return circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(5).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", breakerComponent,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues(breakerComponent, e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(breakerComponent).Set(stateToFloat(e.NewState))
		}).
		Build()
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// FollowedChannels returns every channel token's user follows, following
// pagination cursors until exhausted.
func (hc *HelixClient) FollowedChannels(ctx context.Context, token domain.Token) ([]domain.Channel, error) {
	if token.UserID == "" {
		return nil, fmt.Errorf("followed channels: token has no user id")
	}

	var (
		channels []domain.Channel
		after    string
	)
	for page := 0; page < maxFollowedPages; page++ {
		var resp *helix.GetFollowedChannelResponse
		err := hc.execute(ctx, "channels_followed", token.AccessToken, func(c *helix.Client) (helix.ResponseCommon, error) {
			var err error
			resp, err = c.GetFollowedChannels(&helix.GetFollowedChannelParams{
				UserID: token.UserID,
				First:  MaxIDsPerRequest,
				After:  after,
			})
			if err != nil {
				return helix.ResponseCommon{}, err
			}
			return resp.ResponseCommon, nil
		})
		if err != nil {
			return nil, err
		}

		for _, fc := range resp.Data.FollowedChannels {
			channels = append(channels, domain.Channel{
				ID:          fc.BroadcasterID,
				Login:       fc.BroadcasterLogin,
				DisplayName: fc.BroadcasterName,
			})
		}

		next := resp.Data.Pagination.Cursor
		if next == "" || next == after || len(resp.Data.FollowedChannels) == 0 {
			return channels, nil
		}
		after = next
	}

	slog.WarnContext(ctx, "Helix: followed channel pagination truncated", "pages", maxFollowedPages, "channels", len(channels))
	return channels, nil
}

// LiveStreams returns the live streams among channelIDs (at most MaxIDsPerRequest).
func (hc *HelixClient) LiveStreams(ctx context.Context, token domain.Token, channelIDs []string) ([]domain.Stream, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}
	if len(channelIDs) > MaxIDsPerRequest {
		return nil, fmt.Errorf("streams: %d ids exceed the limit of %d", len(channelIDs), MaxIDsPerRequest)
	}

	var resp *helix.StreamsResponse
	err := hc.execute(ctx, "streams", token.AccessToken, func(c *helix.Client) (helix.ResponseCommon, error) {
		var err error
		resp, err = c.GetStreams(&helix.StreamsParams{
			UserIDs: channelIDs,
			First:   MaxIDsPerRequest,
		})
		if err != nil {
			return helix.ResponseCommon{}, err
		}
		return resp.ResponseCommon, nil
	})
	if err != nil {
		return nil, err
	}

	streams := make([]domain.Stream, 0, len(resp.Data.Streams))
	for _, s := range resp.Data.Streams {
		streams = append(streams, domain.Stream{
			ChannelID:    s.UserID,
			Login:        s.UserLogin,
			DisplayName:  s.UserName,
			Title:        s.Title,
			Game:         s.GameName,
			ViewerCount:  s.ViewerCount,
			StartedAt:    s.StartedAt,
			ThumbnailURL: s.ThumbnailURL,
		})
	}
	return streams, nil
}

// execute runs one Helix call under the rate limiter and the circuit breaker
// and maps the HTTP status to domain errors. Client errors do not count
// against the breaker.
func (hc *HelixClient) execute(ctx context.Context, endpoint, accessToken string, call func(c *helix.Client) (helix.ResponseCommon, error)) error {
	if err := hc.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}

	if !hc.breaker.TryAcquirePermit() {
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "breaker_open").Inc()
		return fmt.Errorf("%s: %w", endpoint, circuitbreaker.ErrOpen)
	}

	start := time.Now()
	hc.mu.Lock()
	hc.client.SetUserAccessToken(accessToken)
	common, err := call(hc.client)
	hc.mu.Unlock()
	metrics.HelixRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil {
		hc.breaker.RecordError(err)
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s: %w", endpoint, err)
	}

	switch status := common.StatusCode; {
	case status == http.StatusOK:
		hc.breaker.RecordSuccess()
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
		return nil
	case status == http.StatusUnauthorized:
		hc.breaker.RecordSuccess()
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "unauthorized").Inc()
		return fmt.Errorf("%s: %w: %s", endpoint, domain.ErrTokenRejected, common.ErrorMessage)
	case status == http.StatusTooManyRequests:
		hc.breaker.RecordSuccess()
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return fmt.Errorf("%s: %w", endpoint, domain.ErrRateLimited)
	case status >= http.StatusInternalServerError:
		err := fmt.Errorf("%s: unexpected status code: %d, error: %s, message: %s", endpoint, status, common.Error, common.ErrorMessage)
		hc.breaker.RecordError(err)
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "server_error").Inc()
		return err
	default:
		hc.breaker.RecordSuccess()
		metrics.HelixRequestsTotal.WithLabelValues(endpoint, "client_error").Inc()
		return fmt.Errorf("%s: unexpected status code: %d, error: %s, message: %s", endpoint, status, common.Error, common.ErrorMessage)
	}
}

// Package stats implements the HTTP client of the user statistics provider.
// The provider owns connections, events and resources; the engine only reads
// the aggregate counts it needs to evaluate achievements.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/circuitbreaker"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultTimeout bounds one stats request.
const DefaultTimeout = 2 * time.Second

// ClientConfig contains configuration for the stats client.
type ClientConfig struct {
	// BaseURL is the provider base URL, e.g. "http://social:8080/internal".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// Logger for structured logging
	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// DTO
// ══════════════════════════════════════════════════════════════════════════════

// StatsDTO is the provider's response body.
type StatsDTO struct {
	UserID            string `json:"userId,omitempty"`
	ConnectionsCount  int    `json:"connectionsCount"`
	EventsCreated     int    `json:"eventsCreated"`
	ResourcesUploaded int    `json:"resourcesUploaded"`
	EventsAttended    int    `json:"eventsAttended"`
}

// ToSnapshot converts the DTO into the domain snapshot. Negative counts are
// clamped to zero.
func (d StatsDTO) ToSnapshot() achievement.StatsSnapshot {
	return achievement.StatsSnapshot{
		ConnectionsCount:  max(d.ConnectionsCount, 0),
		EventsCreated:     max(d.EventsCreated, 0),
		ResourcesUploaded: max(d.ResourcesUploaded, 0),
		EventsAttended:    max(d.EventsAttended, 0),
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stats api: status %d: %s", e.StatusCode, e.Body)
}

// ServerFault reports whether the provider itself failed. A 4xx answer
// means the provider is up and rejected this request.
func (e *APIError) ServerFault() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client fetches user statistics over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ achievement.StatsProvider = (*Client)(nil)

// NewClient creates a stats client. breaker may be nil to disable the guard.
func NewClient(config ClientConfig, breaker *circuitbreaker.CircuitBreaker) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		breaker:    breaker,
		logger:     config.Logger.With(logger.Component("stats_client")),
	}
}

// GetStats implements achievement.StatsProvider. Every failure, including an
// open circuit, is reported as shared.ErrStatsUnavailable.
func (c *Client) GetStats(ctx context.Context, userID string) (achievement.StatsSnapshot, error) {
	if userID == "" {
		return achievement.StatsSnapshot{}, shared.ErrUnknownUser
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var (
		dto       StatsDTO
		rejection error
	)
	call := func(ctx context.Context) error {
		err := c.doRequest(ctx, "/users/"+url.PathEscape(userID)+"/stats", &dto)
		// Only transport errors and 5xx count against the breaker.
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.ServerFault() {
			rejection = err
			return nil
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err == nil {
		err = rejection
	}
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			c.logger.Debug("stats request short-circuited", logger.UserID(userID))
		}
		return achievement.StatsSnapshot{}, fmt.Errorf("%w: %w", shared.ErrStatsUnavailable, err)
	}

	return dto.ToSnapshot(), nil
}

// doRequest performs a single GET and decodes the JSON body into result.
func (c *Client) doRequest(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultAITimeout bounds a single call to the AI service.
const DefaultAITimeout = 30 * time.Second

// BreakerConfig configures the circuit breaker in front of the AI service.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

type AIClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewAIClient(baseURL string, timeout time.Duration, bc BreakerConfig, logger *zap.Logger) *AIClient {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-service",
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureThreshold
		},
		// A caller giving up says nothing about the AI service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c
}

// BreakerState reports the breaker state for health output.
func (c *AIClient) BreakerState() string { return c.breaker.State().String() }

// Analyze asks the AI service to analyze a stored contract. The body is
// returned untouched; callers normalize it. Every failure is a
// *DownstreamError, including an open breaker.
func (c *AIClient) Analyze(ctx context.Context, contractID, token string) (json.RawMessage, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.analyze(ctx, contractID, token)
	})
	if err != nil {
		var de *DownstreamError
		if errors.As(err, &de) {
			return nil, de
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &DownstreamError{StatusCode: http.StatusServiceUnavailable, Err: err}
		}
		return nil, &DownstreamError{Err: err}
	}
	return out.(json.RawMessage), nil
}

func (c *AIClient) analyze(ctx context.Context, contractID, token string) (json.RawMessage, error) {
	endpoint := c.baseURL + "/analyze/" + url.PathEscape(contractID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &DownstreamError{Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DownstreamError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &DownstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.logger.Debug("ai service responded",
		zap.String("contract_id", contractID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &DownstreamError{StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}
	return json.RawMessage(body), nil
}

package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAuthClient_VerifyUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/me", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"success":true,"data":{"id":"u1","email":"a@b.c"}}`))
		case "Bearer legacy":
			w.Write([]byte(`{"success":true,"data":{"_id":"u2"}}`))
		case "Bearer soft":
			w.Write([]byte(`{"success":false,"message":"expired"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewAuthClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	u, err := c.VerifyUser(ctx, "Bearer good")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "a@b.c", u.Email)

	u, err = c.VerifyUser(ctx, "Bearer legacy")
	require.NoError(t, err)
	assert.Equal(t, "u2", u.ID)

	for _, token := range []string{"Bearer soft", "Bearer bad", ""} {
		_, err := c.VerifyUser(ctx, token)
		assert.ErrorIs(t, err, ErrAuthentication, token)
	}
}

func TestAuthClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewAuthClient(url, time.Second).VerifyUser(context.Background(), "Bearer x")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAIClient_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze/c-1", r.URL.Path)
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.Write([]byte(`{"analysis_summary":{"overview":"ok"}}`))
	}))
	defer srv.Close()

	c := NewAIClient(srv.URL, time.Second, DefaultBreakerConfig(), zaptest.NewLogger(t))
	raw, err := c.Analyze(context.Background(), "c-1", "Bearer t")
	require.NoError(t, err)
	assert.JSONEq(t, `{"analysis_summary":{"overview":"ok"}}`, string(raw))
}

func TestAIClient_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAIClient(srv.URL, time.Second, DefaultBreakerConfig(), zaptest.NewLogger(t))
	_, err := c.Analyze(context.Background(), "c-1", "")

	var de *DownstreamError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Contains(t, de.Error(), "model overloaded")
}

func TestAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewAIClient(srv.URL, 50*time.Millisecond, DefaultBreakerConfig(), zaptest.NewLogger(t))
	_, err := c.Analyze(context.Background(), "c-1", "")

	var de *DownstreamError
	require.True(t, errors.As(err, &de))
	assert.Zero(t, de.StatusCode)
}

func TestAIClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bc := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 0.5, MinRequests: 2}
	c := NewAIClient(srv.URL, time.Second, bc, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := c.Analyze(context.Background(), "c-1", "")
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Analyze(context.Background(), "c-1", "")
	var de *DownstreamError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, http.StatusServiceUnavailable, de.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAIClient_CancellationDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"overview":"ok"}`))
	}))
	defer srv.Close()

	bc := BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 0.5, MinRequests: 2}
	c := NewAIClient(srv.URL, time.Second, bc, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := c.Analyze(ctx, "c-1", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", c.BreakerState())

	out, err := c.Analyze(context.Background(), "c-1", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"overview":"ok"}`, string(out))
	assert.Equal(t, int32(1), calls.Load())
}

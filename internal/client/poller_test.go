package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finalizeServer answers NOT_VERIFIED until verifiedAfter calls, then succeeds.
func finalizeServer(t *testing.T, verifiedAfter int32, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n < verifiedAfter {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"ok":false,"error":{"code":"NOT_VERIFIED","message":"Account is not verified"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "verified": true, "username": "kim"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPoller_FinalizesOnceVerified(t *testing.T) {
	var calls int32
	srv := finalizeServer(t, 2, &calls)
	var checks int32
	p := &VerificationPoller{
		Client:   New(srv.URL, srv.Client()),
		Identity: StaticIdentity("tok"),
		Verified: func(string) bool { return atomic.AddInt32(&checks, 1) > 1 },
		Interval: 5 * time.Millisecond,
		Delays:   []time.Duration{0},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := p.Run(ctx, FinalizeRequest{Username: "kim"})
	require.NoError(t, err)
	assert.Equal(t, "kim", res.Username)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&checks), int32(2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "NOT_VERIFIED from the server keeps polling")
}

func TestPoller_StopsOnPermanentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"ok":false,"error":{"code":"USERNAME_CONFLICT","message":"taken"}}`))
	}))
	defer srv.Close()
	p := &VerificationPoller{
		Client:   New(srv.URL, srv.Client()),
		Identity: StaticIdentity("tok"),
		Verified: func(string) bool { return true },
		Interval: time.Millisecond,
		Delays:   []time.Duration{0},
	}
	_, err := p.Run(context.Background(), FinalizeRequest{Username: "kim"})
	assert.True(t, IsCode(err, "USERNAME_CONFLICT"), "got %v", err)
}

func TestPoller_ContextEnds(t *testing.T) {
	p := &VerificationPoller{
		Client:   New("http://127.0.0.1:0", nil),
		Identity: StaticIdentity("tok"),
		Verified: func(string) bool { return false },
		Interval: time.Millisecond,
		Delays:   []time.Duration{0},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Run(ctx, FinalizeRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoller_FinalizeIsSerialized(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		_, _ = w.Write([]byte(`{"ok":true,"verified":true,"username":"kim"}`))
	}))
	defer srv.Close()
	p := &VerificationPoller{Client: New(srv.URL, srv.Client())}

	done := make(chan error, 1)
	go func() {
		_, err := p.Finalize(context.Background(), "tok", FinalizeRequest{})
		done <- err
	}()
	<-entered

	_, err := p.Finalize(context.Background(), "tok", FinalizeRequest{})
	assert.ErrorIs(t, err, ErrFinalizeInProgress)

	close(release)
	require.NoError(t, <-done)
}

package webhook

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

func TestNewWithoutURLIsNoop(t *testing.T) {
	e, err := New("", "", time.Second)
	require.NoError(t, err)
	assert.IsType(t, Noop{}, e)
	assert.NoError(t, e.Emit(context.Background(), EventPointsEarned, nil))
}

func TestEmitDelivers(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Service-Token"))
		assert.Equal(t, EventChallengeApproved, r.Header.Get("X-Webhook-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e, err := New(srv.URL, "secret", time.Second)
	require.NoError(t, err)

	err = e.Emit(context.Background(), EventChallengeApproved, map[string]any{"record_id": "r-1"})
	require.NoError(t, err)
	assert.Equal(t, EventChallengeApproved, got.Type)
	assert.NotEmpty(t, got.Id)
}

func TestEmitRetriesOnceOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := New(srv.URL, "", time.Second)
	require.NoError(t, err)
	e.(*HTTPEmitter).retry = time.Millisecond

	require.NoError(t, e.Emit(context.Background(), EventPointsEarned, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitGivesUpAfterRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := New(srv.URL, "", time.Second)
	require.NoError(t, err)
	e.(*HTTPEmitter).retry = time.Millisecond

	assert.Error(t, e.Emit(context.Background(), EventPointsEarned, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	e, err := New(srv.URL, "", time.Second)
	require.NoError(t, err)

	assert.Error(t, e.Emit(context.Background(), EventPointsEarned, nil))
	assert.Equal(t, int32(1), calls.Load())
}

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingServer hangs past the client timeout on every request and counts them.
func stallingServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

func TestSendDoesNotRetryTimedOutPost(t *testing.T) {
	var hits int32
	srv := stallingServer(t, &hits)
	c := New().WithTimeout(150 * time.Millisecond)

	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, JSON: map[string]string{"name": "u1"}})
	require.Error(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestSendRetriesTimedOutGet(t *testing.T) {
	var hits int32
	srv := stallingServer(t, &hits)
	c := New().WithTimeout(150 * time.Millisecond)

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestSendReturnsStatusWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	res, err := New().Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, res.IsSuccess())
}

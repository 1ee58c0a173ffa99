package panel

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resellbot/internal/pkg/httpclient"
)

type scriptedSend struct {
	statuses map[string]int
	calls    []string
}

func (s *scriptedSend) send(_ context.Context, _ Endpoint, path string) (*httpclient.Response, error) {
	s.calls = append(s.calls, path)
	code, ok := s.statuses[path]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return &httpclient.Response{StatusCode: code, Body: []byte(`{"detail":"x"}`)}, nil
}

func threeCandidates() Probe {
	return Probe{
		{Method: http.MethodPost, Path: "/a"},
		{Method: http.MethodPost, Path: "/b"},
		{Method: http.MethodPost, Path: "/c"},
	}
}

func TestProbeStopsAtFirstNon404(t *testing.T) {
	s := &scriptedSend{statuses: map[string]int{"/a": 404, "/b": 400, "/c": 200}}

	_, ep, err := threeCandidates().Do(context.Background(), OpMutate, "create", nil, s.send)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "/b", ep.Path)
	assert.Equal(t, []string{"/a", "/b"}, s.calls, "candidate C must never be tried")
}

func TestProbeStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusInternalServerError, ErrProvisioning},
		{http.StatusConflict, ErrProvisioning},
	}
	for _, tc := range cases {
		s := &scriptedSend{statuses: map[string]int{"/a": tc.status}}
		_, _, err := threeCandidates().Do(context.Background(), OpMutate, "op", nil, s.send)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		assert.Len(t, s.calls, 1)

		var pe *Error
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, tc.status, pe.Status)
	}
}

func TestProbeAll404(t *testing.T) {
	all404 := map[string]int{"/a": 404, "/b": 404, "/c": 404}

	_, _, err := threeCandidates().Do(context.Background(), OpLookup, "fetch", nil, (&scriptedSend{statuses: all404}).send)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = threeCandidates().Do(context.Background(), OpMutate, "create", nil, (&scriptedSend{statuses: all404}).send)
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestProbeSuccessAndNetworkError(t *testing.T) {
	s := &scriptedSend{statuses: map[string]int{"/a": 404, "/b": 201}}
	resp, ep, err := threeCandidates().Do(context.Background(), OpMutate, "create", nil, s.send)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "/b", ep.Path)

	s = &scriptedSend{statuses: map[string]int{}}
	_, _, err = threeCandidates().Do(context.Background(), OpMutate, "create", nil, s.send)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Len(t, s.calls, 1)
}

func TestProbeRestartsFromFirstCandidate(t *testing.T) {
	s := &scriptedSend{statuses: map[string]int{"/a": 404, "/b": 200}}
	p := threeCandidates()

	_, _, err := p.Do(context.Background(), OpMutate, "create", nil, s.send)
	require.NoError(t, err)
	_, _, err = p.Do(context.Background(), OpMutate, "create", nil, s.send)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "/a", "/b"}, s.calls)
}

func TestEndpointExpandEscapes(t *testing.T) {
	ep := Endpoint{Path: "/api/user/{username}"}
	assert.Equal(t, "/api/user/a%2Fb", ep.Expand(map[string]string{"username": "a/b"}))
	assert.Equal(t, "/api/user/{username}", ep.Expand(nil))
}

func TestDescribe(t *testing.T) {
	err := newError(ErrAuthentication, "login", 401, "bad credentials")
	assert.Contains(t, Describe(err), "server unreachable")
	assert.Contains(t, Describe(err), "HTTP 401")
	assert.Contains(t, Describe(err), "bad credentials")
	assert.Equal(t, ErrAuthentication, Kind(err))
	assert.Nil(t, Kind(errors.New("x")))
	assert.Equal(t, "", Describe(nil))
}

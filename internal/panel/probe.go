package panel

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"resellbot/internal/pkg/httpclient"
)

// Op selects how a probe treats "404 everywhere".
type Op int

const (
	// OpMutate: create/update/delete. 404 on every candidate means the panel lacks the endpoint.
	OpMutate Op = iota
	// OpLookup: read by identity. 404 on every candidate means the account does not exist.
	OpLookup
)

// Endpoint is one candidate path template. {name} placeholders are filled
// from the vars passed to Probe.Do.
type Endpoint struct {
	Method string
	Path   string
	Form   bool
}

// Expand substitutes vars into the path template, escaping each value.
func (e Endpoint) Expand(vars map[string]string) string {
	if len(vars) == 0 {
		return e.Path
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(e.Path)
}

// SendFunc performs a single request against an expanded candidate path.
type SendFunc func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error)

// Probe is an ordered candidate list for one logical operation. It keeps no
// state between calls: every Do starts again from the first candidate.
type Probe []Endpoint

// Do tries candidates strictly in order and stops at the first response that
// is not 404. 2xx returns the response; 400/422, 401/403 and any other status
// end the probe with a tagged error without touching later candidates.
func (p Probe) Do(ctx context.Context, op Op, name string, vars map[string]string, send SendFunc) (*httpclient.Response, Endpoint, error) {
	for _, ep := range p {
		resp, err := send(ctx, ep, ep.Expand(vars))
		if err != nil {
			return nil, ep, &Error{Kind: ErrNetwork, Op: name, Err: err}
		}

		switch code := resp.StatusCode; {
		case code == http.StatusNotFound:
			continue
		case resp.IsSuccess():
			return resp, ep, nil
		case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
			return resp, ep, newError(ErrValidation, name, code, extractAPIError(resp.Body))
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return resp, ep, newError(ErrAuthentication, name, code, extractAPIError(resp.Body))
		default:
			return resp, ep, newError(ErrProvisioning, name, code, extractAPIError(resp.Body))
		}
	}

	if op == OpLookup {
		return nil, Endpoint{}, newError(ErrNotFound, name, http.StatusNotFound, "")
	}
	return nil, Endpoint{}, newError(ErrEndpointNotFound, name, http.StatusNotFound, "")
}

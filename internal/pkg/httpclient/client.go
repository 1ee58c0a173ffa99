package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps resty for HTTP requests to upstream panels and payment gateways.
type Client struct {
	r *resty.Client
}

// Request describes one outbound call. Exactly one of JSON or Form is sent as the body.
type Request struct {
	Method  string
	URL     string
	JSON    interface{}
	Form    map[string]string
	Query   map[string]string
	Headers map[string]string
	Cookies []*http.Cookie
	Bearer  string
}

// Response is the raw outcome of a call. Non-2xx statuses are not errors here;
// interpretation is left to the caller.
type Response struct {
	StatusCode int
	Body       []byte
	Cookies    []*http.Cookie
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New creates a new HTTP client with sensible defaults.
// Transport failures of idempotent methods are retried once; POST and PATCH
// are sent exactly once, and HTTP statuses are never retried. The cookie jar
// is disabled: sessions are handed in explicitly per request.
func New() *Client {
	r := resty.New().
		SetTimeout(30 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		SetCookieJar(nil)

	return &Client{r: r}
}

// WithTimeout sets a custom timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.r.SetTimeout(d)
	}
	return c
}

// WithHeader sets a custom header on every request.
func (c *Client) WithHeader(key, value string) *Client {
	c.r.SetHeader(key, value)
	return c
}

// WithInsecureSkipVerify disables TLS verification. Panels commonly run self-signed certs.
func (c *Client) WithInsecureSkipVerify() *Client {
	c.r.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	return c
}

// Send executes req and returns the status, body and cookies.
// The returned error is non-nil only for transport failures.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	r := c.r.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Cookies) > 0 {
		r.SetCookies(req.Cookies)
	}
	if req.Bearer != "" {
		r.SetAuthToken(req.Bearer)
	}
	switch {
	case req.Form != nil:
		r.SetFormData(req.Form)
	case req.JSON != nil:
		r.SetHeader("Content-Type", "application/json").SetBody(req.JSON)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !idempotent(method) {
		// Request conditions run before client ones; a false here vetoes the retry.
		r.AddRetryCondition(func(*resty.Response, error) bool { return false })
	}
	res, err := r.Execute(method, req.URL)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: res.StatusCode(),
		Body:       res.Body(),
		Cookies:    res.Cookies(),
	}, nil
}

func idempotent(method string) bool {
	return method != http.MethodPost && method != http.MethodPatch
}

// Get sends a GET request and returns the response.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers})
}

// Post sends a POST request with JSON body.
func (c *Client) Post(ctx context.Context, url string, body interface{}, headers map[string]string) (*Response, error) {
	return c.Send(ctx, Request{Method: http.MethodPost, URL: url, JSON: body, Headers: headers})
}

package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resellbot/internal/credcache"
	"resellbot/internal/models"
	"resellbot/internal/pkg/httpclient"
)

// Candidate endpoints for bearer-token panels (Marzban and its forks).
var (
	bearerLogin = Probe{
		{Method: http.MethodPost, Path: "/api/admin/token", Form: true},
		{Method: http.MethodPost, Path: "/api/admins/token", Form: true},
		{Method: http.MethodPost, Path: "/api/auth/token"},
	}
	bearerGet = Probe{
		{Method: http.MethodGet, Path: "/api/user/{username}"},
		{Method: http.MethodGet, Path: "/api/users/{username}"},
	}
	bearerCreate = Probe{
		{Method: http.MethodPost, Path: "/api/user"},
		{Method: http.MethodPost, Path: "/api/users"},
	}
	bearerModify = Probe{
		{Method: http.MethodPut, Path: "/api/user/{username}"},
		{Method: http.MethodPut, Path: "/api/users/{username}"},
	}
	bearerRemove = Probe{
		{Method: http.MethodDelete, Path: "/api/user/{username}"},
		{Method: http.MethodDelete, Path: "/api/users/{username}"},
	}
	bearerList = Probe{
		{Method: http.MethodGet, Path: "/api/users"},
	}
)

const bearerPageSize = 100

// BearerTokenAdapter talks to panels that issue an access token from an
// admin login and address users by username.
type BearerTokenAdapter struct {
	server  models.Server
	baseURL string
	client  *httpclient.Client
	loader  *credcache.Loader
	logger  *zap.Logger
	now     func() time.Time
}

func NewBearerTokenAdapter(server models.Server, opts Options) *BearerTokenAdapter {
	opts = opts.withDefaults()
	return &BearerTokenAdapter{
		server:  server,
		baseURL: strings.TrimRight(strings.TrimSpace(server.BaseURL), "/"),
		client:  httpclient.New().WithTimeout(opts.Timeout).WithInsecureSkipVerify().WithHeader("Accept", "application/json"),
		loader:  opts.Loader,
		logger:  opts.Logger.With(zap.Uint("server_id", server.ID), zap.String("panel", string(models.PanelBearerToken))),
		now:     opts.Now,
	}
}

func (b *BearerTokenAdapter) Kind() models.PanelType {
	return models.PanelBearerToken
}

func (b *BearerTokenAdapter) login(ctx context.Context) (credcache.Artifact, time.Duration, error) {
	creds := map[string]string{
		"username": b.server.Username,
		"password": b.server.Password,
	}
	resp, _, err := bearerLogin.Do(ctx, OpMutate, "login", nil, func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error) {
		req := httpclient.Request{Method: ep.Method, URL: b.baseURL + path}
		if ep.Form {
			req.Form = creds
		} else {
			req.JSON = creds
		}
		return b.client.Send(ctx, req)
	})
	if err != nil {
		return credcache.Artifact{}, 0, loginError("login", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return credcache.Artifact{}, 0, newError(ErrAuthentication, "login", resp.StatusCode, "malformed token response")
	}
	token := stringOf(result["access_token"])
	if token == "" {
		return credcache.Artifact{}, 0, newError(ErrAuthentication, "login", resp.StatusCode, "no access_token in response")
	}
	b.logger.Debug("panel token issued")
	return credcache.Artifact{Token: token}, credcache.BearerTTL(parseInt64Any(result["expires_in"])), nil
}

func (b *BearerTokenAdapter) call(ctx context.Context, op Op, name string, p Probe, vars, query map[string]string, body interface{}) (*httpclient.Response, error) {
	var resp *httpclient.Response
	err := withAuthRetry(ctx, b.loader, b.server.ID, b.login, authRejected, func(cred credcache.Artifact) error {
		r, _, err := p.Do(ctx, op, name, vars, func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error) {
			return b.client.Send(ctx, httpclient.Request{
				Method: ep.Method,
				URL:    b.baseURL + path,
				JSON:   body,
				Query:  query,
				Bearer: cred.Token,
			})
		})
		resp = r
		return err
	})
	return resp, err
}

func (b *BearerTokenAdapter) CreateAccount(ctx context.Context, req CreateRequest) (*Account, error) {
	payload := map[string]interface{}{
		"username":   req.Identity,
		"status":     "active",
		"data_limit": bearerCreateLimit(req.VolumeBytes),
		"expire":     bearerCreateExpire(req.ExpireAt),
		"note":       req.Note,
		"proxies": map[string]interface{}{
			"vless": map[string]interface{}{"id": uuid.NewString()},
		},
		"data_limit_reset_strategy": "no_reset",
	}
	if inbound := strings.TrimSpace(req.Inbound); inbound != "" {
		payload["inbounds"] = map[string][]string{"vless": {inbound}}
	}

	resp, err := b.call(ctx, OpMutate, "create account", bearerCreate, nil, nil, payload)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject("create account", resp)
	if err != nil {
		return nil, err
	}

	username := stringOf(raw["username"])
	if username == "" {
		username = req.Identity
	}
	_, expireAt := bearerDecode(raw["data_limit"], raw["expire"])
	if expireAt == 0 {
		expireAt = req.ExpireAt
	}
	return &Account{
		Identity:        username,
		ExternalID:      username,
		SubscriptionURL: subscriptionURL(b.baseURL, b.server.SubHost, stringOf(raw["subscription_url"])),
		ExpireAt:        expireAt,
	}, nil
}

func (b *BearerTokenAdapter) FetchAccount(ctx context.Context, identity string) (*Snapshot, error) {
	resp, err := b.call(ctx, OpLookup, "fetch account", bearerGet, map[string]string{"username": identity}, nil, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject("fetch account", resp)
	if err != nil {
		return nil, err
	}
	if stringOf(raw["username"]) == "" {
		return nil, newError(ErrNotFound, "fetch account", resp.StatusCode, extractAPIError(resp.Body))
	}
	return b.snapshot(raw), nil
}

func (b *BearerTokenAdapter) UpdateAccount(ctx context.Context, externalID string, delta Delta) error {
	if _, err := b.FetchAccount(ctx, externalID); err != nil {
		return err
	}
	if delta.Empty() {
		return nil
	}

	payload := map[string]interface{}{}
	if delta.VolumeBytes != nil {
		payload["data_limit"] = bearerModifyLimit(*delta.VolumeBytes)
	}
	if delta.ExpireAt != nil {
		payload["expire"] = bearerModifyExpire(*delta.ExpireAt)
	}
	if delta.Enabled != nil {
		if *delta.Enabled {
			payload["status"] = "active"
		} else {
			payload["status"] = "disabled"
		}
	}

	resp, err := b.call(ctx, OpMutate, "update account", bearerModify, map[string]string{"username": externalID}, nil, payload)
	if err != nil {
		return err
	}
	return acceptAck("update account", resp, b.logger)
}

func (b *BearerTokenAdapter) DeleteAccount(ctx context.Context, externalID string) error {
	if _, err := b.FetchAccount(ctx, externalID); err != nil {
		return err
	}
	resp, err := b.call(ctx, OpMutate, "delete account", bearerRemove, map[string]string{"username": externalID}, nil, nil)
	if err != nil {
		return err
	}
	return acceptAck("delete account", resp, b.logger)
}

func (b *BearerTokenAdapter) ListAccounts(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0)
	for offset := 0; ; offset += bearerPageSize {
		query := map[string]string{
			"offset": strconv.Itoa(offset),
			"limit":  strconv.Itoa(bearerPageSize),
		}
		resp, err := b.call(ctx, OpMutate, "list accounts", bearerList, nil, query, nil)
		if err != nil {
			return nil, err
		}
		raw, err := decodeObject("list accounts", resp)
		if err != nil {
			return nil, err
		}

		users, _ := raw["users"].([]interface{})
		for _, u := range users {
			if m, ok := u.(map[string]interface{}); ok {
				out = append(out, *b.snapshot(m))
			}
		}

		total := int(parseInt64Any(raw["total"]))
		if len(users) < bearerPageSize || (total > 0 && len(out) >= total) {
			return out, nil
		}
	}
}

func (b *BearerTokenAdapter) snapshot(raw map[string]interface{}) *Snapshot {
	quota, expireAt := bearerDecode(raw["data_limit"], raw["expire"])
	used := parseInt64Any(raw["used_traffic"])

	upstream := strings.ToLower(stringOf(raw["status"]))
	enabled := upstream != "disabled"
	status := deriveStatus(enabled, used, quota, expireAt, upstream == "on_hold", b.now())
	switch upstream {
	case "limited":
		status = StatusLimited
	case "expired":
		status = StatusExpired
	}

	username := stringOf(raw["username"])
	return &Snapshot{
		Identity:        username,
		ExternalID:      username,
		Enabled:         enabled,
		Status:          status,
		UsedBytes:       used,
		QuotaBytes:      quota,
		ExpireAt:        expireAt,
		SubscriptionURL: subscriptionURL(b.baseURL, b.server.SubHost, stringOf(raw["subscription_url"])),
	}
}

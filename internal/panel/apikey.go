package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"resellbot/internal/models"
	"resellbot/internal/pkg/httpclient"
)

const apiKeyHeader = "Hiddify-API-Key"

// Candidate endpoints for API-key panels. Users are keyed by uuid.
var (
	apiKeyUsers = Probe{
		{Method: http.MethodGet, Path: "/api/v2/admin/user/"},
		{Method: http.MethodGet, Path: "/admin/api/v2/user/"},
	}
	apiKeyCreate = Probe{
		{Method: http.MethodPost, Path: "/api/v2/admin/user/"},
		{Method: http.MethodPost, Path: "/admin/api/v2/user/"},
	}
	apiKeyGet = Probe{
		{Method: http.MethodGet, Path: "/api/v2/admin/user/{uuid}/"},
		{Method: http.MethodGet, Path: "/admin/api/v2/user/{uuid}/"},
	}
	apiKeyPatch = Probe{
		{Method: http.MethodPatch, Path: "/api/v2/admin/user/{uuid}/"},
		{Method: http.MethodPatch, Path: "/admin/api/v2/user/{uuid}/"},
	}
	apiKeyRemove = Probe{
		{Method: http.MethodDelete, Path: "/api/v2/admin/user/{uuid}/"},
		{Method: http.MethodDelete, Path: "/admin/api/v2/user/{uuid}/"},
	}
)

// APIKeyAdapter talks to panels authenticated by a static API key header.
// There is no login, so nothing is cached and there is no re-login retry.
type APIKeyAdapter struct {
	server  models.Server
	baseURL string
	apiKey  string
	client  *httpclient.Client
	logger  *zap.Logger
	now     func() time.Time
}

func NewAPIKeyAdapter(server models.Server, opts Options) *APIKeyAdapter {
	opts = opts.withDefaults()
	return &APIKeyAdapter{
		server:  server,
		baseURL: strings.TrimRight(strings.TrimSpace(server.BaseURL), "/"),
		apiKey:  strings.TrimSpace(server.APIKey),
		client:  httpclient.New().WithTimeout(opts.Timeout).WithInsecureSkipVerify().WithHeader("Accept", "application/json"),
		logger:  opts.Logger.With(zap.Uint("server_id", server.ID), zap.String("panel", string(models.PanelAPIKey))),
		now:     opts.Now,
	}
}

func (h *APIKeyAdapter) Kind() models.PanelType {
	return models.PanelAPIKey
}

func (h *APIKeyAdapter) call(ctx context.Context, op Op, name string, p Probe, vars map[string]string, body interface{}) (*httpclient.Response, error) {
	if h.apiKey == "" {
		return nil, newError(ErrAuthentication, name, 0, "api key not configured")
	}
	resp, _, err := p.Do(ctx, op, name, vars, func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error) {
		return h.client.Send(ctx, httpclient.Request{
			Method:  ep.Method,
			URL:     h.baseURL + path,
			JSON:    body,
			Headers: map[string]string{apiKeyHeader: h.apiKey},
		})
	})
	return resp, err
}

func (h *APIKeyAdapter) CreateAccount(ctx context.Context, req CreateRequest) (*Account, error) {
	now := h.now()
	startDate, days := apiKeyPackage(req.ExpireAt, now)
	id := uuid.NewString()
	payload := map[string]interface{}{
		"uuid":             id,
		"name":             req.Identity,
		"usage_limit_GB":   apiKeyUsageGB(req.VolumeBytes),
		"package_days":     days,
		"start_date":       startDate,
		"current_usage_GB": 0,
		"enable":           true,
		"comment":          req.Note,
	}

	resp, err := h.call(ctx, OpMutate, "create account", apiKeyCreate, nil, payload)
	if err != nil {
		return nil, err
	}
	if raw, err := decodeObject("create account", resp); err == nil {
		if v := stringOf(raw["uuid"]); v != "" {
			id = v
		}
	}

	return &Account{
		Identity:        req.Identity,
		ExternalID:      id,
		SubscriptionURL: h.subscriptionURL(id),
		ExpireAt:        req.ExpireAt,
	}, nil
}

// FetchAccount accepts either the account uuid or its display name.
func (h *APIKeyAdapter) FetchAccount(ctx context.Context, identity string) (*Snapshot, error) {
	if _, err := uuid.Parse(identity); err == nil {
		return h.fetchByUUID(ctx, identity)
	}

	users, err := h.listRaw(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(stringOf(u["name"]), identity) {
			return h.snapshot(u), nil
		}
	}
	return nil, newError(ErrNotFound, "fetch account", http.StatusOK, identity)
}

func (h *APIKeyAdapter) fetchByUUID(ctx context.Context, id string) (*Snapshot, error) {
	resp, err := h.call(ctx, OpLookup, "fetch account", apiKeyGet, map[string]string{"uuid": id}, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject("fetch account", resp)
	if err != nil {
		return nil, err
	}
	if stringOf(raw["uuid"]) == "" {
		return nil, newError(ErrNotFound, "fetch account", resp.StatusCode, id)
	}
	return h.snapshot(raw), nil
}

// resolve returns the uuid of the account addressed by a uuid or display name.
func (h *APIKeyAdapter) resolve(ctx context.Context, identity string) (string, error) {
	snap, err := h.FetchAccount(ctx, identity)
	if err != nil {
		return "", err
	}
	return snap.ExternalID, nil
}

func (h *APIKeyAdapter) UpdateAccount(ctx context.Context, identity string, delta Delta) error {
	id, err := h.resolve(ctx, identity)
	if err != nil {
		return err
	}
	if delta.Empty() {
		return nil
	}

	payload := map[string]interface{}{}
	if delta.VolumeBytes != nil {
		payload["usage_limit_GB"] = apiKeyUsageGB(*delta.VolumeBytes)
	}
	if delta.ExpireAt != nil {
		startDate, days := apiKeyPackage(*delta.ExpireAt, h.now())
		payload["start_date"] = startDate
		payload["package_days"] = days
	}
	if delta.Enabled != nil {
		payload["enable"] = *delta.Enabled
	}

	resp, err := h.call(ctx, OpMutate, "update account", apiKeyPatch, map[string]string{"uuid": id}, payload)
	if err != nil {
		return err
	}
	return acceptAck("update account", resp, h.logger)
}

func (h *APIKeyAdapter) DeleteAccount(ctx context.Context, identity string) error {
	id, err := h.resolve(ctx, identity)
	if err != nil {
		return err
	}
	resp, err := h.call(ctx, OpMutate, "delete account", apiKeyRemove, map[string]string{"uuid": id}, nil)
	if err != nil {
		return err
	}
	return acceptAck("delete account", resp, h.logger)
}

func (h *APIKeyAdapter) ListAccounts(ctx context.Context) ([]Snapshot, error) {
	users, err := h.listRaw(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(users))
	for _, u := range users {
		out = append(out, *h.snapshot(u))
	}
	return out, nil
}

// listRaw returns the user objects. Panels answer with a bare array or {"data": [...]}.
func (h *APIKeyAdapter) listRaw(ctx context.Context) ([]map[string]interface{}, error) {
	resp, err := h.call(ctx, OpMutate, "list accounts", apiKeyUsers, nil, nil)
	if err != nil {
		return nil, err
	}

	var parsed interface{}
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, newError(ErrProvisioning, "list accounts", resp.StatusCode, "malformed response: "+string(resp.Body))
	}
	var items []interface{}
	switch v := parsed.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items, _ = v["data"].([]interface{})
	}

	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *APIKeyAdapter) snapshot(raw map[string]interface{}) *Snapshot {
	now := h.now()
	quota, used, expireAt, onHold := apiKeyDecode(
		toFloat64(raw["usage_limit_GB"]),
		toFloat64(raw["current_usage_GB"]),
		stringOf(raw["start_date"]),
		int(parseInt64Any(raw["package_days"])),
		now,
	)
	enabled := boolFromAny(raw["enable"], true)
	id := stringOf(raw["uuid"])

	return &Snapshot{
		Identity:        stringOf(raw["name"]),
		ExternalID:      id,
		Enabled:         enabled,
		Status:          deriveStatus(enabled, used, quota, expireAt, onHold, now),
		UsedBytes:       used,
		QuotaBytes:      quota,
		ExpireAt:        expireAt,
		SubscriptionURL: h.subscriptionURL(id),
	}
}

func (h *APIKeyAdapter) subscriptionURL(id string) string {
	if id == "" {
		return ""
	}
	base := strings.TrimRight(strings.TrimSpace(h.server.SubHost), "/")
	if base == "" {
		base = h.baseURL
	}
	return base + "/" + strings.Trim(id, "/") + "/"
}

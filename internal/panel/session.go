package panel

import (
	"context"
	"encoding/json"
	"errors"
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

// Candidate endpoints for cookie-session panels. The /xui/API prefix is the
// older single-user fork layout.
var (
	sessionLogin = Probe{
		{Method: http.MethodPost, Path: "/login", Form: true},
	}
	sessionList = Probe{
		{Method: http.MethodGet, Path: "/panel/api/inbounds/list"},
		{Method: http.MethodGet, Path: "/xui/API/inbounds/"},
	}
	sessionTraffic = Probe{
		{Method: http.MethodGet, Path: "/panel/api/inbounds/getClientTraffics/{email}"},
		{Method: http.MethodGet, Path: "/xui/API/inbounds/getClientTraffics/{email}"},
	}
	sessionInbound = Probe{
		{Method: http.MethodGet, Path: "/panel/api/inbounds/get/{inbound_id}"},
		{Method: http.MethodGet, Path: "/xui/API/inbounds/get/{inbound_id}"},
	}
	sessionAdd = Probe{
		{Method: http.MethodPost, Path: "/panel/api/inbounds/addClient"},
		{Method: http.MethodPost, Path: "/xui/API/inbounds/addClient"},
	}
	sessionUpdate = Probe{
		{Method: http.MethodPost, Path: "/panel/api/inbounds/updateClient/{client_id}"},
		{Method: http.MethodPost, Path: "/xui/API/inbounds/updateClient/{client_id}"},
	}
	sessionDelete = Probe{
		{Method: http.MethodPost, Path: "/panel/api/inbounds/{inbound_id}/delClient/{client_id}"},
		{Method: http.MethodPost, Path: "/xui/API/inbounds/{inbound_id}/delClient/{client_id}"},
	}
)

// CookieSessionAdapter talks to x-ui style panels: form login returning a
// session cookie, clients stored inside each inbound's settings JSON.
type CookieSessionAdapter struct {
	server         models.Server
	baseURL        string
	defaultInbound int
	client         *httpclient.Client
	loader         *credcache.Loader
	logger         *zap.Logger
	now            func() time.Time
}

func NewCookieSessionAdapter(server models.Server, opts Options) *CookieSessionAdapter {
	opts = opts.withDefaults()
	inbound, _ := strconv.Atoi(strings.TrimSpace(server.DefaultInbound))
	if inbound <= 0 {
		inbound = 1
	}
	return &CookieSessionAdapter{
		server:         server,
		baseURL:        strings.TrimRight(strings.TrimSpace(server.BaseURL), "/"),
		defaultInbound: inbound,
		client:         httpclient.New().WithTimeout(opts.Timeout).WithInsecureSkipVerify().WithHeader("Accept", "application/json"),
		loader:         opts.Loader,
		logger:         opts.Logger.With(zap.Uint("server_id", server.ID), zap.String("panel", string(models.PanelCookieSession))),
		now:            opts.Now,
	}
}

func (a *CookieSessionAdapter) Kind() models.PanelType {
	return models.PanelCookieSession
}

func (a *CookieSessionAdapter) login(ctx context.Context) (credcache.Artifact, time.Duration, error) {
	form := map[string]string{
		"username": a.server.Username,
		"password": a.server.Password,
	}
	resp, _, err := sessionLogin.Do(ctx, OpMutate, "login", nil, func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error) {
		return a.client.Send(ctx, httpclient.Request{Method: ep.Method, URL: a.baseURL + path, Form: form})
	})
	if err != nil {
		return credcache.Artifact{}, 0, loginError("login", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(resp.Body, &raw); err == nil {
		if !boolFromAny(raw["success"], true) {
			return credcache.Artifact{}, 0, newError(ErrAuthentication, "login", resp.StatusCode, stringOf(raw["msg"]))
		}
	}
	session := credcache.SessionFrom(resp.Cookies)
	if session.Empty() {
		return credcache.Artifact{}, 0, newError(ErrAuthentication, "login", resp.StatusCode, "no session cookie returned")
	}
	a.logger.Debug("panel session established")
	return session, credcache.SessionTTL, nil
}

func (a *CookieSessionAdapter) call(ctx context.Context, op Op, name string, p Probe, vars map[string]string, body interface{}) (*httpclient.Response, error) {
	var resp *httpclient.Response
	err := withAuthRetry(ctx, a.loader, a.server.ID, a.login, sessionStale, func(cred credcache.Artifact) error {
		r, _, err := p.Do(ctx, op, name, vars, func(ctx context.Context, ep Endpoint, path string) (*httpclient.Response, error) {
			return a.client.Send(ctx, httpclient.Request{
				Method:  ep.Method,
				URL:     a.baseURL + path,
				JSON:    body,
				Cookies: cred.HTTPCookies(),
			})
		})
		resp = r
		return err
	})
	return resp, err
}

// sessionStale treats an all-404 answer like a 401: x-ui serves 404 under its
// api prefix once the session cookie has expired.
func sessionStale(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrEndpointNotFound)
}

// envelope decodes the {success, msg, obj} wrapper every x-ui endpoint returns.
func (a *CookieSessionAdapter) envelope(op string, resp *httpclient.Response) (map[string]interface{}, error) {
	raw, err := decodeObject(op, resp)
	if err != nil {
		return nil, err
	}
	if !boolFromAny(raw["success"], false) {
		return nil, newError(ErrProvisioning, op, resp.StatusCode, stringOf(raw["msg"]))
	}
	return raw, nil
}

func (a *CookieSessionAdapter) CreateAccount(ctx context.Context, req CreateRequest) (*Account, error) {
	inbound := a.defaultInbound
	if n, err := strconv.Atoi(strings.TrimSpace(req.Inbound)); err == nil && n > 0 {
		inbound = n
	}

	clientID := uuid.NewString()
	subID := randomHex(8)
	settings := map[string]interface{}{
		"clients": []map[string]interface{}{
			{
				"id":         clientID,
				"flow":       "",
				"email":      req.Identity,
				"limitIp":    0,
				"totalGB":    sessionTotal(req.VolumeBytes),
				"expiryTime": sessionExpiry(req.ExpireAt),
				"enable":     true,
				"tgId":       "",
				"subId":      subID,
				"reset":      0,
				"comment":    req.Note,
			},
		},
	}
	settingsJSON, _ := json.Marshal(settings)
	payload := map[string]interface{}{
		"id":       inbound,
		"settings": string(settingsJSON),
	}

	resp, err := a.call(ctx, OpMutate, "create account", sessionAdd, nil, payload)
	if err != nil {
		return nil, err
	}
	if _, err := a.envelope("create account", resp); err != nil {
		return nil, err
	}

	return &Account{
		Identity:        req.Identity,
		ExternalID:      req.Identity,
		ClientID:        clientID,
		InboundID:       strconv.Itoa(inbound),
		SubscriptionURL: a.subscriptionURL(subID),
		ExpireAt:        req.ExpireAt,
	}, nil
}

func (a *CookieSessionAdapter) FetchAccount(ctx context.Context, identity string) (*Snapshot, error) {
	c, err := a.findClient(ctx, identity)
	if err != nil {
		return nil, err
	}
	return a.snapshot(c), nil
}

func (a *CookieSessionAdapter) UpdateAccount(ctx context.Context, externalID string, delta Delta) error {
	c, err := a.findClient(ctx, externalID)
	if err != nil {
		return err
	}
	if delta.Empty() {
		return nil
	}

	entry := make(map[string]interface{}, len(c.entry))
	for k, v := range c.entry {
		entry[k] = v
	}
	if delta.VolumeBytes != nil {
		entry["totalGB"] = sessionTotal(*delta.VolumeBytes)
	}
	if delta.ExpireAt != nil {
		entry["expiryTime"] = sessionExpiry(*delta.ExpireAt)
	}
	if delta.Enabled != nil {
		entry["enable"] = *delta.Enabled
	}

	settingsJSON, _ := json.Marshal(map[string]interface{}{"clients": []map[string]interface{}{entry}})
	payload := map[string]interface{}{
		"id":       c.inboundID,
		"settings": string(settingsJSON),
	}
	resp, err := a.call(ctx, OpMutate, "update account", sessionUpdate, map[string]string{"client_id": c.clientID()}, payload)
	if err != nil {
		return err
	}
	return acceptAck("update account", resp, a.logger)
}

func (a *CookieSessionAdapter) DeleteAccount(ctx context.Context, externalID string) error {
	c, err := a.findClient(ctx, externalID)
	if err != nil {
		return err
	}
	vars := map[string]string{
		"inbound_id": strconv.Itoa(c.inboundID),
		"client_id":  c.clientID(),
	}
	resp, err := a.call(ctx, OpMutate, "delete account", sessionDelete, vars, nil)
	if err != nil {
		return err
	}
	return acceptAck("delete account", resp, a.logger)
}

func (a *CookieSessionAdapter) ListAccounts(ctx context.Context) ([]Snapshot, error) {
	resp, err := a.call(ctx, OpMutate, "list accounts", sessionList, nil, nil)
	if err != nil {
		return nil, err
	}
	env, err := a.envelope("list accounts", resp)
	if err != nil {
		return nil, err
	}

	items, _ := env["obj"].([]interface{})
	out := make([]Snapshot, 0)
	for _, item := range items {
		inbound, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		inboundID := int(parseInt64Any(inbound["id"]))
		traffic := clientTraffic(inbound["clientStats"])
		for _, entry := range inboundClients(inbound["settings"]) {
			c := &sessionClient{inboundID: inboundID, entry: entry}
			if t, ok := traffic[strings.ToLower(c.email())]; ok {
				c.up, c.down = t[0], t[1]
			}
			out = append(out, *a.snapshot(c))
		}
	}
	return out, nil
}

type sessionClient struct {
	inboundID int
	entry     map[string]interface{}
	up, down  int64
}

func (c *sessionClient) email() string {
	return stringOf(c.entry["email"])
}

// clientID is the uuid for vmess/vless clients and the password for trojan ones.
func (c *sessionClient) clientID() string {
	if id := stringOf(c.entry["id"]); id != "" {
		return id
	}
	return stringOf(c.entry["password"])
}

// findClient resolves an email to its inbound and settings entry.
func (a *CookieSessionAdapter) findClient(ctx context.Context, email string) (*sessionClient, error) {
	resp, err := a.call(ctx, OpLookup, "fetch account", sessionTraffic, map[string]string{"email": email}, nil)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject("fetch account", resp)
	if err != nil {
		return nil, err
	}
	stats, _ := raw["obj"].(map[string]interface{})
	if !boolFromAny(raw["success"], false) || len(stats) == 0 {
		return nil, newError(ErrNotFound, "fetch account", resp.StatusCode, email)
	}

	inboundID := int(parseInt64Any(stats["inboundId"]))
	if inboundID <= 0 {
		inboundID = a.defaultInbound
	}
	resp, err = a.call(ctx, OpLookup, "fetch inbound", sessionInbound, map[string]string{"inbound_id": strconv.Itoa(inboundID)}, nil)
	if err != nil {
		return nil, err
	}
	env, err := a.envelope("fetch inbound", resp)
	if err != nil {
		return nil, err
	}
	inbound, _ := env["obj"].(map[string]interface{})
	for _, entry := range inboundClients(inbound["settings"]) {
		if strings.EqualFold(stringOf(entry["email"]), email) {
			return &sessionClient{
				inboundID: inboundID,
				entry:     entry,
				up:        parseInt64Any(stats["up"]),
				down:      parseInt64Any(stats["down"]),
			}, nil
		}
	}
	return nil, newError(ErrNotFound, "fetch account", http.StatusOK, email)
}

func (a *CookieSessionAdapter) snapshot(c *sessionClient) *Snapshot {
	now := a.now()
	quota := sessionTotal(parseInt64Any(c.entry["totalGB"]))
	expireAt, onHold := sessionDecodeExpiry(parseInt64Any(c.entry["expiryTime"]), now)
	enabled := boolFromAny(c.entry["enable"], true)
	used := c.up + c.down

	return &Snapshot{
		Identity:        c.email(),
		ExternalID:      c.email(),
		Enabled:         enabled,
		Status:          deriveStatus(enabled, used, quota, expireAt, onHold, now),
		UsedBytes:       used,
		QuotaBytes:      quota,
		ExpireAt:        expireAt,
		SubscriptionURL: a.subscriptionURL(stringOf(c.entry["subId"])),
	}
}

func (a *CookieSessionAdapter) subscriptionURL(subID string) string {
	if subID == "" {
		return ""
	}
	host := strings.TrimRight(strings.TrimSpace(a.server.SubHost), "/")
	if host == "" {
		host = a.baseURL + "/sub"
	}
	return host + "/" + subID
}

// inboundClients reads the clients array from an inbound's settings, which
// panels return either as a JSON string or as an object.
func inboundClients(settings interface{}) []map[string]interface{} {
	var parsed map[string]interface{}
	switch s := settings.(type) {
	case string:
		_ = json.Unmarshal([]byte(s), &parsed)
	case map[string]interface{}:
		parsed = s
	}
	list, _ := parsed["clients"].([]interface{})
	out := make([]map[string]interface{}, 0, len(list))
	for _, c := range list {
		if m, ok := c.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// clientTraffic indexes clientStats by lowercased email -> [up, down].
func clientTraffic(stats interface{}) map[string][2]int64 {
	out := make(map[string][2]int64)
	list, _ := stats.([]interface{})
	for _, st := range list {
		m, ok := st.(map[string]interface{})
		if !ok {
			continue
		}
		out[strings.ToLower(stringOf(m["email"]))] = [2]int64{parseInt64Any(m["up"]), parseInt64Any(m["down"])}
	}
	return out
}

// Package credcache holds short-lived panel authentication artifacts keyed by server id.
// Entries are always recomputable; a miss or a backend error just means "log in again".
package credcache

import (
	"context"
	"net/http"
	"time"
)

const (
	// SessionTTL bounds how long a cookie session is reused.
	SessionTTL = time.Hour
	// DefaultBearerTTL applies when the token endpoint reports no usable expires_in.
	DefaultBearerTTL = 58 * time.Minute

	bearerSafetyMargin = 60 * time.Second
)

// Cookie is a serializable session cookie.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Artifact is either a bearer token or a cookie session.
type Artifact struct {
	Token   string   `json:"token,omitempty"`
	Cookies []Cookie `json:"cookies,omitempty"`
}

// Empty reports whether a carries no credential.
func (a Artifact) Empty() bool {
	return a.Token == "" && len(a.Cookies) == 0
}

// HTTPCookies converts the stored session back into request cookies.
func (a Artifact) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(a.Cookies))
	for _, c := range a.Cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// SessionFrom captures the cookies set by a login response.
func SessionFrom(cookies []*http.Cookie) Artifact {
	a := Artifact{}
	for _, c := range cookies {
		if c == nil || c.Name == "" || c.MaxAge < 0 {
			continue
		}
		a.Cookies = append(a.Cookies, Cookie{Name: c.Name, Value: c.Value})
	}
	return a
}

// BearerTTL derives the cache lifetime from a token endpoint's expires_in (seconds).
// Lifetimes too short for the safety margin are halved instead, so a short-lived
// token is never cached past its real expiry.
func BearerTTL(expiresIn int64) time.Duration {
	if expiresIn <= 0 {
		return DefaultBearerTTL
	}
	lifetime := time.Duration(expiresIn) * time.Second
	if lifetime <= bearerSafetyMargin {
		return lifetime / 2
	}
	return lifetime - bearerSafetyMargin
}

// Cache stores one artifact per server.
type Cache interface {
	Get(ctx context.Context, serverID uint) (Artifact, bool)
	Put(ctx context.Context, serverID uint, artifact Artifact, ttl time.Duration)
	Invalidate(ctx context.Context, serverID uint)
}

package panel

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"resellbot/internal/pkg/httpclient"
)

func stringOf(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}

func parseInt64Any(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return int64(f)
	case string:
		s := strings.TrimSpace(val)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f)
		}
	}
	return 0
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	}
	return 0
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02",
}

// parseTimeToUnix accepts unix seconds (number or numeric string) or a timestamp string.
// Timestamps without a zone are read as UTC.
func parseTimeToUnix(v interface{}) int64 {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unix
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix()
			}
		}
		return 0
	default:
		return parseInt64Any(v)
	}
}

func boolFromAny(v interface{}, defaultVal bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func randomHex(size int) string {
	if size <= 0 {
		size = 8
	}
	b := make([]byte, size)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// extractAPIError pulls the human message out of common upstream error bodies.
func extractAPIError(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	for _, key := range []string{"detail", "error", "msg", "message"} {
		switch v := parsed[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case nil:
		default:
			// FastAPI validation errors carry a list under "detail".
			raw, _ := json.Marshal(v)
			return string(raw)
		}
	}
	return string(body)
}

// decodeObject parses a JSON object body.
func decodeObject(op string, resp *httpclient.Response) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal(resp.Body, &out); err != nil || out == nil {
		return nil, newError(ErrProvisioning, op, resp.StatusCode, "malformed response: "+string(resp.Body))
	}
	return out, nil
}

// acceptAck interprets the body of a 2xx update/delete response.
// A JSON body reporting success=false is a failure. An empty or non-JSON body
// is accepted as an implicit acknowledgement; this is an unverified assumption
// about upstream behaviour, so it is logged every time it is relied on.
func acceptAck(op string, resp *httpclient.Response, logger *zap.Logger) error {
	body := bytes.TrimSpace(resp.Body)
	var parsed interface{}
	if len(body) == 0 || json.Unmarshal(body, &parsed) != nil {
		logger.Debug("panel returned empty or non-JSON 2xx, treating as implicit ack",
			zap.String("op", op), zap.Int("status", resp.StatusCode))
		return nil
	}
	if obj, ok := parsed.(map[string]interface{}); ok {
		if success, present := obj["success"]; present && !boolFromAny(success, true) {
			return newError(ErrProvisioning, op, resp.StatusCode, extractAPIError(body))
		}
	}
	return nil
}

// subscriptionURL resolves a panel-reported subscription link against the
// server's subscription host override (or its base URL for relative links).
func subscriptionURL(baseURL, subHost, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	subHost = strings.TrimRight(strings.TrimSpace(subHost), "/")
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		if subHost == "" {
			return link
		}
		u, err := url.Parse(link)
		if err != nil {
			return link
		}
		out := subHost + u.EscapedPath()
		if u.RawQuery != "" {
			out += "?" + u.RawQuery
		}
		return out
	}
	host := subHost
	if host == "" {
		host = strings.TrimRight(baseURL, "/")
	}
	return host + "/" + strings.TrimLeft(link, "/")
}

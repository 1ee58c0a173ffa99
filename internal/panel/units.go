package panel

import (
	"math"
	"time"
)

// All unit conversion and "unlimited" encoding for the three panel families
// lives in this file. Domain values are bytes and unix seconds, with 0 meaning
// unlimited / never expires.

const (
	bytesPerGB = int64(1) << 30
	secondsDay = int64(86400)

	// API-key panels have no null or zero sentinel; these are their native "no limit" values.
	apiKeyUnlimitedGB   = 1_000_000.0
	apiKeyUnlimitedDays = 111111
)

// GBToBytes converts whole gigabytes to bytes.
func GBToBytes(gb int) int64 {
	if gb <= 0 {
		return 0
	}
	return int64(gb) * bytesPerGB
}

// BytesToGB rounds bytes to the nearest whole gigabyte.
func BytesToGB(b int64) int {
	if b <= 0 {
		return 0
	}
	return int(math.Round(float64(b) / float64(bytesPerGB)))
}

// DaysFromNow returns the unix expiry for a duration in days, 0 for no expiry.
func DaysFromNow(now time.Time, days int) int64 {
	if days <= 0 {
		return 0
	}
	return now.Add(time.Duration(days) * 24 * time.Hour).Unix()
}

// cookie-session family: bytes, milliseconds, 0 = unlimited, negative expiry = start on first use.

func sessionTotal(volumeBytes int64) int64 {
	if volumeBytes <= 0 {
		return 0
	}
	return volumeBytes
}

func sessionExpiry(expireAt int64) int64 {
	if expireAt <= 0 {
		return 0
	}
	return expireAt * 1000
}

// sessionDecodeExpiry maps expiryTime (ms) to unix seconds. A negative value is a
// duration that starts on first connection; it is projected from now.
func sessionDecodeExpiry(ms int64, now time.Time) (expireAt int64, onHold bool) {
	switch {
	case ms == 0:
		return 0, false
	case ms < 0:
		return now.Unix() + (-ms)/1000, true
	default:
		return ms / 1000, false
	}
}

// bearer-token family: bytes and seconds. Creation takes null for unlimited;
// modification takes 0, because null there means "leave unchanged".

func bearerCreateLimit(volumeBytes int64) interface{} {
	if volumeBytes <= 0 {
		return nil
	}
	return volumeBytes
}

func bearerCreateExpire(expireAt int64) interface{} {
	if expireAt <= 0 {
		return nil
	}
	return expireAt
}

func bearerModifyLimit(volumeBytes int64) int64 {
	if volumeBytes <= 0 {
		return 0
	}
	return volumeBytes
}

func bearerModifyExpire(expireAt int64) int64 {
	if expireAt <= 0 {
		return 0
	}
	return expireAt
}

// bearerDecode normalizes data_limit (bytes or null) and expire (seconds, RFC3339 or null).
func bearerDecode(dataLimit, expire interface{}) (quotaBytes, expireAt int64) {
	quotaBytes = parseInt64Any(dataLimit)
	if quotaBytes < 0 {
		quotaBytes = 0
	}
	expireAt = parseTimeToUnix(expire)
	if expireAt < 0 {
		expireAt = 0
	}
	return quotaBytes, expireAt
}

// api-key family: float gigabytes, and expiry expressed as package_days from start_date.

func apiKeyUsageGB(volumeBytes int64) float64 {
	if volumeBytes <= 0 {
		return apiKeyUnlimitedGB
	}
	return float64(volumeBytes) / float64(bytesPerGB)
}

func apiKeyGBToBytes(gb float64) int64 {
	if gb <= 0 {
		return 0
	}
	return int64(math.Round(gb * float64(bytesPerGB)))
}

// apiKeyPackage returns start_date and package_days for an absolute expiry.
// Days are counted from the start of today (UTC) so the decoded expiry lands
// on the same calendar day as expireAt.
func apiKeyPackage(expireAt int64, now time.Time) (startDate string, days int) {
	today := now.UTC().Truncate(24 * time.Hour)
	startDate = today.Format("2006-01-02")
	if expireAt <= 0 {
		return startDate, apiKeyUnlimitedDays
	}
	days = int((expireAt - today.Unix()) / secondsDay)
	if days < 1 {
		days = 1
	}
	return startDate, days
}

// apiKeyDecode normalizes usage_limit_GB, current_usage_GB, start_date and package_days.
func apiKeyDecode(limitGB, usageGB float64, startDate string, days int, now time.Time) (quotaBytes, usedBytes, expireAt int64, onHold bool) {
	if limitGB < apiKeyUnlimitedGB {
		quotaBytes = apiKeyGBToBytes(limitGB)
	}
	usedBytes = apiKeyGBToBytes(usageGB)

	if days <= 0 || days >= apiKeyUnlimitedDays {
		return quotaBytes, usedBytes, 0, false
	}
	start := parseTimeToUnix(startDate)
	if start <= 0 {
		// Package not started yet: counts from first use.
		return quotaBytes, usedBytes, now.Unix() + int64(days)*secondsDay, true
	}
	return quotaBytes, usedBytes, start + int64(days)*secondsDay, false
}

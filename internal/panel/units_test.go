package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGBConversions(t *testing.T) {
	assert.Equal(t, int64(5)*1024*1024*1024, GBToBytes(5))
	assert.Equal(t, int64(0), GBToBytes(0))
	assert.Equal(t, 5, BytesToGB(GBToBytes(5)))
	assert.Equal(t, 0, BytesToGB(0))
}

func TestSessionExpiryDecode(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	at, hold := sessionDecodeExpiry(sessionExpiry(1_700_086_400), now)
	assert.Equal(t, int64(1_700_086_400), at)
	assert.False(t, hold)

	at, hold = sessionDecodeExpiry(-86400*1000, now)
	assert.Equal(t, now.Unix()+86400, at)
	assert.True(t, hold)

	at, _ = sessionDecodeExpiry(0, now)
	assert.Zero(t, at)
}

func TestBearerUnlimitedEncodings(t *testing.T) {
	assert.Nil(t, bearerCreateLimit(0))
	assert.Nil(t, bearerCreateExpire(0))
	assert.Equal(t, int64(0), bearerModifyLimit(0))
	assert.Equal(t, int64(0), bearerModifyExpire(0))

	quota, exp := bearerDecode(nil, nil)
	assert.Zero(t, quota)
	assert.Zero(t, exp)

	quota, exp = bearerDecode(float64(1024), "2024-05-01T00:00:00Z")
	assert.Equal(t, int64(1024), quota)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix(), exp)
}

func TestAPIKeyPackageLandsOnSameDay(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	expireAt := now.Add(30 * 24 * time.Hour)

	start, days := apiKeyPackage(expireAt.Unix(), now)
	assert.Equal(t, "2024-05-01", start)
	assert.Equal(t, 30, days)

	_, _, decoded, hold := apiKeyDecode(5, 0, start, days, now)
	assert.False(t, hold)
	got := time.Unix(decoded, 0).UTC()
	assert.Equal(t, expireAt.YearDay(), got.YearDay())
}

func TestAPIKeyUnlimited(t *testing.T) {
	now := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	start, days := apiKeyPackage(0, now)
	assert.Equal(t, apiKeyUnlimitedDays, days)

	quota, used, exp, hold := apiKeyDecode(apiKeyUsageGB(0), 1.5, start, days, now)
	assert.Zero(t, quota)
	assert.Zero(t, exp)
	assert.False(t, hold)
	assert.Equal(t, apiKeyGBToBytes(1.5), used)
}

func TestAPIKeyNotStartedIsOnHold(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	_, _, exp, hold := apiKeyDecode(10, 0, "", 7, now)
	assert.True(t, hold)
	assert.Equal(t, now.Unix()+7*86400, exp)
}

func TestDeriveStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, StatusDisabled, deriveStatus(false, 0, 0, 0, false, now))
	assert.Equal(t, StatusOnHold, deriveStatus(true, 0, 0, 0, true, now))
	assert.Equal(t, StatusExpired, deriveStatus(true, 0, 0, now.Unix()-1, false, now))
	assert.Equal(t, StatusLimited, deriveStatus(true, 10, 10, 0, false, now))
	assert.Equal(t, StatusActive, deriveStatus(true, 5, 10, now.Unix()+60, false, now))
	assert.Equal(t, StatusActive, deriveStatus(true, 1<<40, 0, 0, false, now))
}

func TestSnapshotRemaining(t *testing.T) {
	left, unlimited := Snapshot{QuotaBytes: 0, UsedBytes: 99}.Remaining()
	assert.True(t, unlimited)
	assert.Zero(t, left)

	left, unlimited = Snapshot{QuotaBytes: 10, UsedBytes: 12}.Remaining()
	assert.False(t, unlimited)
	assert.Zero(t, left)
}

func TestParseTimeToUnixDateOnly(t *testing.T) {
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix(), parseTimeToUnix("2024-05-01"))
	assert.Equal(t, int64(1_700_000_000), parseTimeToUnix("1700000000"))
	assert.Equal(t, int64(1_700_000_000), parseTimeToUnix(float64(1_700_000_000)))
}

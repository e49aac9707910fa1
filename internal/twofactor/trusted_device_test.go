package twofactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeviceManager(t *testing.T, cfg Config) *DeviceManager {
	t.Helper()
	db := setupTestDB(t)
	return NewDeviceManager(cfg, NewDeviceRepository(db))
}

func testFingerprint(ip string) Fingerprint {
	return Fingerprint{IP: ip, UserAgent: "test-agent/1.0", DeviceName: "laptop"}
}

func TestDeviceTokenRoundTrip(t *testing.T) {
	token := DeviceToken{DeviceID: "abc", Secret: "s3cret"}
	parsed, ok := ParseDeviceToken(token.String())
	require.True(t, ok)
	assert.Equal(t, token, parsed)

	for _, bad := range []string{"", "noseparator", ".secret", "id.", "."} {
		_, ok := ParseDeviceToken(bad)
		assert.False(t, ok, "token %q should not parse", bad)
	}
}

func TestDeviceAddAndTrust(t *testing.T) {
	mgr := newTestDeviceManager(t, testConfig())
	ctx := context.Background()

	device, token, created, err := mgr.Add(ctx, 1, testFingerprint("10.0.0.1"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "laptop", device.DeviceName)
	assert.NotEqual(t, token.Secret, device.SecretHash)

	ok, rotated := mgr.IsTrusted(ctx, 1, token)
	require.True(t, ok)
	assert.Equal(t, token.DeviceID, rotated.DeviceID)
	assert.NotEqual(t, token.Secret, rotated.Secret)
}

func TestDeviceTokenRotatesOnUse(t *testing.T) {
	mgr := newTestDeviceManager(t, testConfig())
	ctx := context.Background()

	_, token, _, err := mgr.Add(ctx, 1, testFingerprint("10.0.0.1"))
	require.NoError(t, err)

	ok, rotated := mgr.IsTrusted(ctx, 1, token)
	require.True(t, ok)

	// the pre-rotation token is dead
	ok, _ = mgr.IsTrusted(ctx, 1, token)
	assert.False(t, ok)

	ok, _ = mgr.IsTrusted(ctx, 1, rotated)
	assert.True(t, ok)
}

func TestDeviceRejectsForgedToken(t *testing.T) {
	mgr := newTestDeviceManager(t, testConfig())
	ctx := context.Background()

	_, token, _, err := mgr.Add(ctx, 1, testFingerprint("10.0.0.1"))
	require.NoError(t, err)

	ok, _ := mgr.IsTrusted(ctx, 1, DeviceToken{DeviceID: token.DeviceID, Secret: "forged"})
	assert.False(t, ok)
	ok, _ = mgr.IsTrusted(ctx, 1, DeviceToken{DeviceID: "unknown", Secret: token.Secret})
	assert.False(t, ok)
	// a valid token presented for another account
	ok, _ = mgr.IsTrusted(ctx, 2, token)
	assert.False(t, ok)
}

func TestDeviceAddIdempotentPerFingerprint(t *testing.T) {
	mgr := newTestDeviceManager(t, testConfig())
	ctx := context.Background()
	fp := testFingerprint("10.0.0.1")

	first, firstToken, created, err := mgr.Add(ctx, 1, fp)
	require.NoError(t, err)
	require.True(t, created)

	second, secondToken, created, err := mgr.Add(ctx, 1, fp)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.NotEqual(t, firstToken.Secret, secondToken.Secret)

	devices, err := mgr.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	// re-adding re-tokens, so the earlier token no longer validates
	ok, _ := mgr.IsTrusted(ctx, 1, firstToken)
	assert.False(t, ok)
	ok, _ = mgr.IsTrusted(ctx, 1, secondToken)
	assert.True(t, ok)
}

func TestDeviceCapEviction(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedDeviceMax = 2
	mgr := newTestDeviceManager(t, cfg)
	ctx := context.Background()

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		_, _, created, err := mgr.Add(ctx, 1, testFingerprint(ip))
		require.NoError(t, err, "add %d", i)
		require.True(t, created)
	}

	devices, err := mgr.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestDeviceExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedDeviceTTL = -time.Minute
	mgr := newTestDeviceManager(t, cfg)
	ctx := context.Background()

	_, token, _, err := mgr.Add(ctx, 1, testFingerprint("10.0.0.1"))
	require.NoError(t, err)

	ok, _ := mgr.IsTrusted(ctx, 1, token)
	assert.False(t, ok)

	removed, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestDeviceRemove(t *testing.T) {
	mgr := newTestDeviceManager(t, testConfig())
	ctx := context.Background()

	_, token, _, err := mgr.Add(ctx, 1, testFingerprint("10.0.0.1"))
	require.NoError(t, err)

	removed, err := mgr.Remove(ctx, 1, token.DeviceID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = mgr.Remove(ctx, 1, token.DeviceID)
	require.NoError(t, err)
	assert.False(t, removed)

	ok, _ := mgr.IsTrusted(ctx, 1, token)
	assert.False(t, ok)
}

package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oppscan/internal/kv"
)

const (
	testUser  = "user-1"
	testScan  = "scan-id-1"
	testKey   = "scan:user-1:deadbeef00112233"
	otherKey  = "scan:user-2:deadbeef00112233"
	lookupTTL = 35 * time.Minute
)

type recordingPaths struct{ paths []string }

func (r *recordingPaths) RecordLookup(path string) { r.paths = append(r.paths, path) }

func newRegistry(t *testing.T) (*Registry, redismock.ClientMock, *recordingPaths) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	rec := &recordingPaths{}
	return NewRegistry(kv.NewFromClient(rdb), rec), mock, rec
}

func userPayload(t *testing.T, scanID, cacheKey string) string {
	t.Helper()
	payload, err := json.Marshal(userRecord{ScanID: scanID, CacheKey: cacheKey})
	require.NoError(t, err)
	return string(payload)
}

func TestRegisterWritesAllThreeMappings(t *testing.T) {
	reg, mock, _ := newRegistry(t)

	mock.ExpectSet(primaryPrefix+testScan, testKey, lookupTTL).SetVal("OK")
	mock.ExpectSet(fallbackPrefix+testScan, testKey, lookupTTL).SetVal("OK")
	mock.ExpectSet(userPrefix+testUser, userPayload(t, testScan, testKey), lookupTTL).SetVal("OK")

	reg.Register(context.Background(), testUser, testScan, testKey, lookupTTL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterContinuesPastFailedWrite(t *testing.T) {
	reg, mock, _ := newRegistry(t)

	// Primary write fails terminally; fallback and user-latest still land.
	mock.ExpectSet(primaryPrefix+testScan, testKey, lookupTTL).SetErr(errors.New("write refused"))
	mock.ExpectPing().SetErr(errors.New("down"))
	mock.ExpectSet(fallbackPrefix+testScan, testKey, lookupTTL).SetVal("OK")
	mock.ExpectSet(userPrefix+testUser, userPayload(t, testScan, testKey), lookupTTL).SetVal("OK")

	reg.Register(context.Background(), testUser, testScan, testKey, lookupTTL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveFastAfterRegister(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectSet(primaryPrefix+testScan, testKey, lookupTTL).SetVal("OK")
	mock.ExpectSet(fallbackPrefix+testScan, testKey, lookupTTL).SetVal("OK")
	mock.ExpectSet(userPrefix+testUser, userPayload(t, testScan, testKey), lookupTTL).SetVal("OK")

	reg.Register(context.Background(), testUser, testScan, testKey, lookupTTL)

	// No further durable expectations: this must come from the fast cache.
	key, ok := reg.Resolve(context.Background(), testUser, testScan)
	require.True(t, ok)
	assert.Equal(t, testKey, key)
	assert.Equal(t, []string{"fast"}, rec.paths)
}

func TestResolvePrimaryRepopulatesFastCache(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectGet(primaryPrefix + testScan).SetVal(testKey)

	key, ok := reg.Resolve(context.Background(), testUser, testScan)
	require.True(t, ok)
	assert.Equal(t, testKey, key)

	// Second resolve is served locally; repeated calls within TTL are
	// idempotent.
	key2, ok2 := reg.Resolve(context.Background(), testUser, testScan)
	require.True(t, ok2)
	assert.Equal(t, key, key2)
	assert.Equal(t, []string{"primary", "fast"}, rec.paths)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveFallbackWhenPrimaryMissing(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectGet(primaryPrefix + testScan).RedisNil()
	mock.ExpectGet(fallbackPrefix + testScan).SetVal(testKey)

	key, ok := reg.Resolve(context.Background(), testUser, testScan)
	require.True(t, ok)
	assert.Equal(t, testKey, key)
	assert.Equal(t, []string{"fallback"}, rec.paths)
}

func TestResolveUserLatestOnlyOnScanIDMatch(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectGet(primaryPrefix + testScan).RedisNil()
	mock.ExpectGet(fallbackPrefix + testScan).RedisNil()
	mock.ExpectGet(userPrefix + testUser).SetVal(userPayload(t, testScan, testKey))

	key, ok := reg.Resolve(context.Background(), testUser, testScan)
	require.True(t, ok)
	assert.Equal(t, testKey, key)
	assert.Equal(t, []string{"user_latest"}, rec.paths)
}

func TestResolveUserLatestRejectsNewerScan(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectGet(primaryPrefix + testScan).RedisNil()
	mock.ExpectGet(fallbackPrefix + testScan).RedisNil()
	// User-latest points at a different, newer scan; it must not answer for
	// the requested id.
	mock.ExpectGet(userPrefix + testUser).SetVal(userPayload(t, "newer-scan", "scan:user-1:ffff"))

	_, ok := reg.Resolve(context.Background(), testUser, testScan)
	assert.False(t, ok)
	assert.Equal(t, []string{"miss"}, rec.paths)
}

func TestResolveRejectsForeignOwnership(t *testing.T) {
	reg, mock, _ := newRegistry(t)

	// The mapping resolves, but the cache key belongs to another user.
	mock.ExpectGet(primaryPrefix + testScan).SetVal(otherKey)

	_, ok := reg.Resolve(context.Background(), testUser, testScan)
	assert.False(t, ok, "foreign cache key must be treated as unresolved")
}

func TestResolveMissExhaustsAllPaths(t *testing.T) {
	reg, mock, rec := newRegistry(t)

	mock.ExpectGet(primaryPrefix + testScan).RedisNil()
	mock.ExpectGet(fallbackPrefix + testScan).RedisNil()
	mock.ExpectGet(userPrefix + testUser).RedisNil()

	_, ok := reg.Resolve(context.Background(), testUser, testScan)
	assert.False(t, ok)
	assert.Equal(t, []string{"miss"}, rec.paths)
}

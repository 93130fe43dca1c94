package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/oppscan/internal/kv"
	"github.com/sawpanic/oppscan/internal/models"
)

func TestResultKeyDeterministic(t *testing.T) {
	a := models.ScanParams{Strategies: []string{"momentum", "volume_surge"}, Tier: "pro"}
	b := models.ScanParams{Strategies: []string{"volume_surge", "momentum"}, Tier: "Pro"}

	assert.Equal(t, ResultKey("user-1", a), ResultKey("user-1", b),
		"ordering and casing must not change the key")
	assert.NotEqual(t, ResultKey("user-1", a), ResultKey("user-2", a),
		"different users must never share a key")
}

func TestResultKeyEmbedsOwner(t *testing.T) {
	key := ResultKey("user-42", models.ScanParams{Tier: "free"})
	owner, ok := KeyOwner(key)
	require.True(t, ok)
	assert.Equal(t, "user-42", owner)
}

func TestKeyOwnerRejectsMalformed(t *testing.T) {
	for _, key := range []string{"", "scan", "scan:", "other:user:abc", "scan::abc"} {
		_, ok := KeyOwner(key)
		assert.False(t, ok, "key %q should not parse", key)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize(models.ScanParams{
		Symbols:    []string{" eth-usd", "BTC-USD", ""},
		Strategies: []string{"b", "a"},
		Tier:       " PRO ",
	})
	assert.Equal(t, "a,b|BTC-USD,ETH-USD|pro", got)
}

func TestPutGetRoundTrip(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewResultStore(kv.NewFromClient(rdb))

	snap := &models.ScanSnapshot{
		ScanID:              "scan-1",
		UserID:              "user-1",
		CacheKey:            "scan:user-1:abc",
		Status:              models.StatusScanning,
		StrategiesTotal:     3,
		StrategiesCompleted: 1,
		Partial:             true,
	}
	payload, err := json.Marshal(snap)
	require.NoError(t, err)

	mock.ExpectSet("scan:user-1:abc", string(payload), 30*time.Minute).SetVal("OK")
	mock.ExpectGet("scan:user-1:abc").SetVal(string(payload))

	require.NoError(t, store.Put(context.Background(), "scan:user-1:abc", snap, 30*time.Minute))

	got, found, err := store.Get(context.Background(), "scan:user-1:abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snap.ScanID, got.ScanID)
	assert.Equal(t, 1, got.StrategiesCompleted)
	assert.True(t, got.Partial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewResultStore(kv.NewFromClient(rdb))

	mock.ExpectGet("scan:user-1:gone").RedisNil()

	snap, found, err := store.Get(context.Background(), "scan:user-1:gone")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

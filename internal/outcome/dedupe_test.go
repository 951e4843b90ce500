package outcome

import (
	"context"
	"testing"
	"time"

	"recovery-service/internal/redisclient"
	"recovery-service/internal/store/memory"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryGuardFallsBackToEventLog(t *testing.T) {
	g := NewDeliveryGuard(nil, memory.New(), 0)
	ctx := context.Background()
	body := []byte(`{"type":"status-update","status":"ringing"}`)
	key := deliveryKey(t, body)

	first, err := g.FirstDelivery(ctx, key)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstDelivery(ctx, key)
	require.NoError(t, err)
	assert.False(t, again)

	assert.NotEqual(t, key, deliveryKey(t, []byte(`{"type":"status-update","status":"ringing" }`)))
}

func deliveryKey(t *testing.T, body []byte) string {
	t.Helper()
	ev, err := ParseWebhook(body)
	require.NoError(t, err)
	key, ok := DeliveryKey(ev, body)
	require.True(t, ok)
	return key
}

func TestDeliveryKeyUsesProviderSequence(t *testing.T) {
	a := deliveryKey(t, []byte(`{"type":"transcript","transcript":"Yes.","callId":"call_1","timestamp":1741600000000}`))
	reformatted := deliveryKey(t, []byte(`{"callId":"call_1", "timestamp":1741600000000, "transcript":"Yes.", "type":"transcript"}`))
	later := deliveryKey(t, []byte(`{"type":"transcript","transcript":"Yes.","callId":"call_1","timestamp":1741600004500}`))
	otherCall := deliveryKey(t, []byte(`{"type":"transcript","transcript":"Yes.","callId":"call_2","timestamp":1741600000000}`))

	assert.Equal(t, a, reformatted)
	assert.NotEqual(t, a, later)
	assert.NotEqual(t, a, otherCall)
}

func TestDeliveryKeySkipsFinalTranscriptWithoutSequence(t *testing.T) {
	body := []byte(`{"type":"transcript","transcript":"Yes.","callId":"call_1"}`)
	ev, err := ParseWebhook(body)
	require.NoError(t, err)

	_, ok := DeliveryKey(ev, body)
	assert.False(t, ok)

	partial := []byte(`{"type":"transcript","transcriptType":"partial","transcript":"Ye","callId":"call_1"}`)
	ev, err = ParseWebhook(partial)
	require.NoError(t, err)
	_, ok = DeliveryKey(ev, partial)
	assert.True(t, ok)
}

func TestDeliveryGuardWithoutBackends(t *testing.T) {
	g := NewDeliveryGuard(nil, nil, 0)
	first, err := g.FirstDelivery(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestDeliveryGuardSurvivesRedisOutage(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	g := NewDeliveryGuard(redisclient.NewFromRedis(rdb), memory.New(), time.Minute)
	ctx := context.Background()

	first, err := g.FirstDelivery(ctx, "provider:abc")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstDelivery(ctx, "provider:abc")
	require.NoError(t, err)
	assert.False(t, again)
}

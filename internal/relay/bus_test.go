package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"matchgogo/backend/internal/models"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func setupNATS(t *testing.T, subject, name string) *NATSBus {
	t.Helper()
	bus, err := NewNATSBus(nats.DefaultURL, subject, name, nil)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	return bus
}

// roundTrip checks that frames published on one bus reach a subscriber on
// another in order.
func roundTrip(t *testing.T, pub, sub Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []Frame
	)
	require.NoError(t, sub.Subscribe(ctx, func(data []byte) {
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			return
		}
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	}))

	for _, id := range []string{"m1", "m2", "m3"} {
		f := Frame{
			Origin:   "node-a",
			Identity: "bob",
			Envelope: models.MustEnvelope(models.EventMatchCreated, map[string]string{"id": id}),
		}
		data, err := json.Marshal(f)
		require.NoError(t, err)
		require.NoError(t, pub.Publish(ctx, data))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, id := range []string{"m1", "m2", "m3"} {
		assert.Equal(t, "node-a", got[i].Origin)
		assert.Equal(t, "bob", got[i].Identity)
		assert.JSONEq(t, `{"id":"`+id+`"}`, string(got[i].Envelope.Payload))
	}
}

func TestRedisBus_RoundTrip(t *testing.T) {
	rdb := setupRedis(t)
	channel := "matchgogo.test." + time.Now().Format("150405.000000")
	pub := NewRedisBus(rdb, channel, nil)
	sub := NewRedisBus(rdb, channel, nil)
	t.Cleanup(func() { _ = sub.Close() })

	roundTrip(t, pub, sub)
}

func TestRedisBus_CloseWithoutSubscribe(t *testing.T) {
	bus := NewRedisBus(setupRedis(t), "matchgogo.idle", nil)
	assert.NoError(t, bus.Close())
}

func TestNATSBus_RoundTrip(t *testing.T) {
	subject := "matchgogo.test." + time.Now().Format("150405.000000")
	pub := setupNATS(t, subject, "node-a")
	sub := setupNATS(t, subject, "node-b")
	t.Cleanup(func() {
		_ = sub.Close()
		_ = pub.Close()
	})

	roundTrip(t, pub, sub)
}

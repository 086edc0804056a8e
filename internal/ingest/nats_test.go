package ingest

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

func TestDecodeReading(t *testing.T) {
	r, err := DecodeReading("vitaltrace.readings.D1", []byte(`{"device_id":"D9","temperature":9.5,"door_open":true}`))
	require.NoError(t, err)
	assert.Equal(t, "D9", r.DeviceID, "payload device wins")
	require.NotNil(t, r.Temperature)
	assert.Equal(t, 9.5, *r.Temperature)
	require.NotNil(t, r.DoorOpen)
	assert.True(t, *r.DoorOpen)
	assert.Nil(t, r.BatteryLevel)

	r, err = DecodeReading("vitaltrace.readings.D1", []byte(`{"battery_level":4}`))
	require.NoError(t, err)
	assert.Equal(t, "D1", r.DeviceID)

	_, err = DecodeReading("vitaltrace.readings.*", []byte(`{"battery_level":4}`))
	assert.Error(t, err)

	_, err = DecodeReading("vitaltrace.readings.D1", []byte(`not json`))
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "vitaltrace.readings.fridge-7", SubjectFor("fridge-7"))
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skip("NATS_TEST_URL not set")
	}

	eval := newFakeEvaluator()
	pool := NewPool(eval, PoolConfig{Workers: 2}, zerolog.Nop())
	pool.Start()
	defer pool.Stop()

	sub, err := NewSubscriber(url, pool, zerolog.Nop())
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe(SubjectPrefix+"*", ""))
	require.NoError(t, sub.Conn.Flush())

	pub, err := NewPublisher(url, zerolog.Nop())
	require.NoError(t, err)
	defer pub.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.Publish(types.Reading{DeviceID: "D1", Temperature: types.Float64(float64(i))}))
	}
	require.NoError(t, pub.Conn.Flush())

	assert.Eventually(t, func() bool { return eval.total() == 10 }, 5*time.Second, 10*time.Millisecond)
}

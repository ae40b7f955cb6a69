package mqtt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("mqtt://bot:pw@broker:1883/robot/imu?qos=1", "imu")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{
		Broker:   "tcp://broker:1883",
		Topic:    "robot/imu",
		QoS:      1,
		Username: "bot",
		Password: "pw",
	}, ep)
}

func TestParseEndpoint_TopicDefaultsToID(t *testing.T) {
	ep, err := ParseEndpoint("mqtt://broker:1883", "lidar")
	require.NoError(t, err)
	assert.Equal(t, "lidar", ep.Topic)
	assert.Equal(t, byte(0), ep.QoS)
}

func TestParseEndpoint_Rejects(t *testing.T) {
	for _, endpoint := range []string{
		"nats://broker:4222/x",
		"mqtt:///topic",
		"mqtt://broker:1883/x?qos=3",
		"mqtt://broker:1883/x?qos=high",
	} {
		_, err := ParseEndpoint(endpoint, "x")
		assert.Error(t, err, endpoint)
	}
}

func TestFeed_SecondSubscribeRejected(t *testing.T) {
	f, err := NewFeed("mqtt://127.0.0.1:1/nothing", "nothing")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	f.mu.Lock()
	f.deliver = func([]byte) {}
	f.mu.Unlock()

	err = f.Subscribe(context.Background(), func([]byte) {})
	assert.ErrorIs(t, err, errAlreadySubscribed)
}

package mqtt

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var brokerURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:2.0",
			Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start mosquitto container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := container.PortEndpoint(ctx, "1883/tcp", "mqtt")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get mosquitto endpoint: %v\n", err)
		os.Exit(1)
	}
	brokerURL = endpoint

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestFeed_ReceivesPublishedMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	feed, err := NewFeed(brokerURL+"/bridge/detection", "detection")
	require.NoError(t, err)
	t.Cleanup(func() { _ = feed.Close() })

	pub, err := NewPublisher(brokerURL+"/bridge/detection", "detection")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	require.Eventually(t, func() bool {
		return feed.Ping(context.Background()) == nil
	}, 10*time.Second, 50*time.Millisecond)

	var mu sync.Mutex
	var got []string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- feed.Subscribe(ctx, func(b []byte) {
			mu.Lock()
			got = append(got, string(b))
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		_ = pub.Publish(context.Background(), []byte(`{"detections":[]}`))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFeed_CloseEndsSubscription(t *testing.T) {
	feed, err := NewFeed("mqtt://127.0.0.1:1/nothing", "nothing")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- feed.Subscribe(context.Background(), func([]byte) {}) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, feed.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after Close")
	}
	assert.Error(t, feed.Ping(context.Background()))
}

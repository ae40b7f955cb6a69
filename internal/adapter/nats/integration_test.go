package nats

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

var natsURL string

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.11.7-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start nats container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get mapped port: %v\n", err)
		os.Exit(1)
	}
	natsURL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestFeed_ReceivesPublishedMessages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	feed, err := NewFeed(natsURL+"/bridge.test.lidar", "lidar")
	require.NoError(t, err)
	t.Cleanup(func() { _ = feed.Close() })

	pub, err := NewPublisher(natsURL+"/bridge.test.lidar", "lidar")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

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
		return feed.Ping(context.Background()) == nil
	}, 5*time.Second, 50*time.Millisecond)

	// the subscription is registered asynchronously; keep publishing until it lands
	require.Eventually(t, func() bool {
		require.NoError(t, pub.Publish(context.Background(), []byte(`{"points":[]}`)))
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFeed_PingFailsWhenUnreachable(t *testing.T) {
	feed, err := NewFeed("nats://127.0.0.1:1/nothing", "nothing")
	require.NoError(t, err, "connect retries in the background instead of failing")
	t.Cleanup(func() { _ = feed.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, feed.Ping(ctx))
}

func TestFeed_SubscribeEndsWhenClosed(t *testing.T) {
	feed, err := NewFeed("nats://127.0.0.1:1/nothing", "nothing")
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
}

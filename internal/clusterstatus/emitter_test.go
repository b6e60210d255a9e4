package clusterstatus

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	brokers []*sarama.Broker
	topics  map[string]sarama.TopicDetail
	err     error
}

func (f *fakeAdmin) DescribeCluster() ([]*sarama.Broker, int32, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.brokers, 1, nil
}

func (f *fakeAdmin) ListTopics() (map[string]sarama.TopicDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.topics, nil
}

func TestEmitter_Run_PublishesSnapshot(t *testing.T) {
	admin := &fakeAdmin{
		brokers: []*sarama.Broker{sarama.NewBroker("broker-1:9092")},
		topics: map[string]sarama.TopicDetail{
			"orders": {NumPartitions: 3},
		},
	}
	e := New(admin, 5*time.Millisecond, time.Second, time.Second)

	stop := make(chan struct{})
	defer close(stop)
	go e.Run(context.Background(), stop)

	select {
	case snap := <-e.Out():
		require.Len(t, snap.Partitions, 1)
		assert.Equal(t, "orders", snap.Partitions[0].Topic)
		assert.Equal(t, []int32{0, 1, 2}, snap.Partitions[0].Partitions)
		require.Len(t, snap.Brokers, 1)
		assert.Equal(t, "broker-1", snap.Brokers[0].Host)
		assert.EqualValues(t, 9092, snap.Brokers[0].Port)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestEmitter_Run_FetchErrorPublishesNothing(t *testing.T) {
	admin := &fakeAdmin{err: assert.AnError}
	e := New(admin, 5*time.Millisecond, time.Second, time.Second)

	stop := make(chan struct{})
	go e.Run(context.Background(), stop)

	select {
	case <-e.Out():
		t.Fatal("should not have published a snapshot on fetch error")
	case <-time.After(50 * time.Millisecond):
	}
	close(stop)
}

func TestEmitter_Run_SaturatedChannelDropsWithoutDeadlock(t *testing.T) {
	admin := &fakeAdmin{topics: map[string]sarama.TopicDetail{"orders": {NumPartitions: 1}}}
	e := New(admin, 2*time.Millisecond, time.Second, 5*time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	go e.Run(context.Background(), stop)

	// Leave the one buffered slot, and every later publish attempt, unread:
	// downstream is permanently saturated from the emitter's point of view.
	require.Eventually(t, func() bool {
		return len(e.Out()) == 1
	}, time.Second, time.Millisecond, "first snapshot never buffered")

	// Let many more ticks pass with the slot still full: each later snapshot
	// is dropped after sendTimeout, and the slot keeps the first one.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, len(e.Out()), "buffered slot should still hold only the oldest snapshot")
}

func TestEmitter_Run_StopsOnShutdown(t *testing.T) {
	admin := &fakeAdmin{brokers: nil, topics: map[string]sarama.TopicDetail{}}
	e := New(admin, time.Millisecond, time.Second, time.Millisecond)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after shutdown")
	}
}

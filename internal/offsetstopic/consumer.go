// Package offsetstopic subscribes to the cluster's internal
// __consumer_offsets topic and decodes its records, the same
// consumer-per-partition fan-in shape as kafka-minion's OffsetConsumer:
// one sarama.PartitionConsumer goroutine per partition, all feeding a
// single shared events channel.
package offsetstopic

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

// EventKind tags which variant an Event carries.
type EventKind int

const (
	// EventOffsetCommit marks an Event carrying a decoded OffsetCommit.
	EventOffsetCommit EventKind = iota
	// EventGroupMetadata marks an Event carrying a decoded GroupMetadata.
	EventGroupMetadata
)

// Event is the sum type published on Consumer's output channel.
type Event struct {
	Kind          EventKind
	OffsetCommit  OffsetCommit
	GroupMetadata GroupMetadata
}

// Consumer subscribes to every partition of the offsets topic from the
// oldest retained record and publishes decoded events on Out.
type Consumer struct {
	client sarama.Client
	topic  string
	out    chan Event
	log    logger.Logger

	wg sync.WaitGroup
}

// New builds a Consumer for the named offsets topic (normally
// "__consumer_offsets") on an already-dialed client. bufferSize is the
// output channel's capacity; spec.md §4.1 requires it be at least 1.
func New(client sarama.Client, topic string, bufferSize int) *Consumer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Consumer{
		client: client,
		topic:  topic,
		out:    make(chan Event, bufferSize),
		log:    logger.New("offsets_topic"),
	}
}

// Out returns the channel decoded events are published on. It closes
// after Run returns.
func (c *Consumer) Out() <-chan Event {
	return c.out
}

// Run starts one partition consumer per partition of the offsets topic and
// blocks until stop fires, at which point every partition consumer is
// closed and the output channel is closed.
func (c *Consumer) Run(ctx context.Context, stop <-chan struct{}) error {
	defer close(c.out)

	consumer, err := sarama.NewConsumerFromClient(c.client)
	if err != nil {
		return err
	}
	defer consumer.Close()

	partitions, err := c.client.Partitions(c.topic)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		close(done)
	}()

	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(c.topic, partition, sarama.OffsetOldest)
		if err != nil {
			c.log.Errorf("starting consumer for %s-%d: %v", c.topic, partition, err)
			continue
		}
		c.wg.Add(1)
		go c.consumePartition(pc, done)
	}

	<-done
	c.wg.Wait()
	return nil
}

func (c *Consumer) consumePartition(pc sarama.PartitionConsumer, stop <-chan struct{}) {
	defer c.wg.Done()
	defer pc.AsyncClose()

	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			c.process(msg)
		case err, ok := <-pc.Errors():
			if !ok {
				continue
			}
			c.log.Errorf("consuming %s-%d: %v", err.Topic, err.Partition, err.Err)
		case <-stop:
			return
		}
	}
}

func (c *Consumer) process(msg *sarama.ConsumerMessage) {
	if len(msg.Value) == 0 {
		c.log.Debugf("dropped tombstone at %s-%d@%d", msg.Topic, msg.Partition, msg.Offset)
		return
	}

	version, keyR, err := keyVersion(msg.Key)
	if err != nil {
		c.log.Warnf("decoding offsets topic key at %s-%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		return
	}

	switch version {
	case 0, 1:
		commit, err := decodeOffsetCommit(keyR, msg.Value)
		if err != nil {
			c.log.Warnf("decoding offset commit at %s-%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			return
		}
		c.publish(Event{Kind: EventOffsetCommit, OffsetCommit: commit})
	case 2:
		meta, err := decodeGroupMetadata(keyR, msg.Value)
		if err != nil {
			c.log.Warnf("decoding group metadata at %s-%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			return
		}
		c.publish(Event{Kind: EventGroupMetadata, GroupMetadata: meta})
	default:
		c.log.Warnf("unknown offsets topic key version %d at %s-%d@%d", version, msg.Topic, msg.Partition, msg.Offset)
	}
}

func (c *Consumer) publish(ev Event) {
	select {
	case c.out <- ev:
	case <-time.After(time.Second):
		c.log.Errorf("dropping offsets topic event, downstream saturated")
	}
}

// Package clusterstatus emits periodic snapshots of the cluster's topic
// and broker metadata, the ticker-plus-select task shape the teacher's
// CollectorScheduler.runCollector uses for every one of its collectors.
package clusterstatus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

// Snapshot is one fetch_metadata result: the cluster's brokers and the
// topic/partition layout, as of Fetched.
type Snapshot struct {
	Fetched    time.Time
	Brokers    []kafkatypes.Broker
	Partitions []kafkatypes.TopicPartitionsStatus
}

// Admin is the subset of sarama.ClusterAdmin this emitter calls.
type Admin interface {
	DescribeCluster() (brokers []*sarama.Broker, controllerID int32, err error)
	ListTopics() (map[string]sarama.TopicDetail, error)
}

// Emitter periodically fetches cluster metadata and publishes it on the
// channel returned by Out. It owns that channel and closes it once Run
// returns, so downstream consumers detect shutdown by channel closure.
type Emitter struct {
	admin Admin
	out   chan Snapshot

	fetchInterval time.Duration
	fetchTimeout  time.Duration
	sendTimeout   time.Duration

	log logger.Logger
}

// New builds an Emitter with a depth-1 output channel (spec.md §4.1's
// "channel depth 1" row for cluster status).
func New(admin Admin, fetchInterval, fetchTimeout, sendTimeout time.Duration) *Emitter {
	return &Emitter{
		admin:         admin,
		out:           make(chan Snapshot, 1),
		fetchInterval: fetchInterval,
		fetchTimeout:  fetchTimeout,
		sendTimeout:   sendTimeout,
		log:           logger.New("cluster_status"),
	}
}

// Out returns the channel snapshots are published on. It closes once Run
// returns.
func (e *Emitter) Out() <-chan Snapshot {
	return e.out
}

// Run fetches metadata every fetchInterval until stop closes. A fetch
// failure is logged and the emitter retries on the next tick; a snapshot
// that can't be sent within sendTimeout is dropped, logged once. Run
// closes the output channel before returning.
func (e *Emitter) Run(ctx context.Context, stop <-chan struct{}) {
	defer close(e.out)

	ticker := time.NewTicker(e.fetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			snap, err := e.fetch()
			if err != nil {
				e.log.Errorf("fetching cluster metadata: %v", err)
				continue
			}
			e.send(snap, stop)
		}
	}
}

// fetch calls sarama's synchronous ClusterAdmin methods, which take no
// context; the request-level timeout is sarama's own Admin.Timeout,
// configured once in kafkaclient.Dial and shared by every emitter on the
// same admin connection (fetchTimeout documents the intended per-emitter
// budget from spec.md §4.1 but isn't separately enforceable per call).
func (e *Emitter) fetch() (Snapshot, error) {
	brokers, _, err := e.admin.DescribeCluster()
	if err != nil {
		return Snapshot{}, fmt.Errorf("describing cluster: %w", err)
	}

	topics, err := e.admin.ListTopics()
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing topics: %w", err)
	}

	snap := Snapshot{Fetched: time.Now()}
	for _, b := range brokers {
		host, portStr, splitErr := net.SplitHostPort(b.Addr())
		var port int64
		if splitErr == nil {
			port, _ = strconv.ParseInt(portStr, 10, 32)
		} else {
			host = b.Addr()
		}
		snap.Brokers = append(snap.Brokers, kafkatypes.Broker{
			ID:   b.ID(),
			Host: host,
			Port: int32(port),
		})
	}
	for name, detail := range topics {
		partitions := make([]int32, detail.NumPartitions)
		for i := range partitions {
			partitions[i] = int32(i)
		}
		snap.Partitions = append(snap.Partitions, kafkatypes.TopicPartitionsStatus{
			Topic:      name,
			Partitions: partitions,
		})
	}
	return snap, nil
}

func (e *Emitter) send(snap Snapshot, stop <-chan struct{}) {
	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()

	select {
	case e.out <- snap:
	case <-timer.C:
		e.log.Errorf("dropping cluster status snapshot, downstream saturated after %s", e.sendTimeout)
	case <-stop:
	}
}

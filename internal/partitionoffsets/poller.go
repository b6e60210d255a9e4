package partitionoffsets

import (
	"context"
	"time"

	"github.com/IBM/sarama"

	"github.com/kafkesc/kcl-lag-exporter/internal/clusterstatus"
	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

// Client is the subset of sarama.Client the poller calls.
type Client interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

// Poller keeps the Register populated: it watches ClusterStatusEmitter
// snapshots for the current partition set, and polls each one's high
// watermark on its own ticker, the same one-goroutine-per-tracked-resource
// fan-out the offsets-topic consumer uses per partition.
type Poller struct {
	client   Client
	register *Register
	interval time.Duration
	log      logger.Logger

	stopOnce map[kafkatypes.TopicPartition]context.CancelFunc
}

// NewPoller builds a Poller that appends one sample per tracked partition
// every interval.
func NewPoller(client Client, register *Register, interval time.Duration) *Poller {
	return &Poller{
		client:   client,
		register: register,
		interval: interval,
		log:      logger.New("partition_offsets"),
		stopOnce: make(map[kafkatypes.TopicPartition]context.CancelFunc),
	}
}

// Run consumes cluster status snapshots from in, starting or stopping a
// per-partition polling goroutine as the tracked topic set changes, until
// in closes or stop fires.
func (p *Poller) Run(ctx context.Context, in <-chan clusterstatus.Snapshot, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			p.stopAll()
			return
		case <-stop:
			p.stopAll()
			return
		case snap, ok := <-in:
			if !ok {
				p.stopAll()
				return
			}
			p.reconcile(ctx, snap)
		}
	}
}

func (p *Poller) reconcile(ctx context.Context, snap clusterstatus.Snapshot) {
	wanted := make(map[kafkatypes.TopicPartition]struct{})
	for _, ts := range snap.Partitions {
		for _, part := range ts.Partitions {
			wanted[kafkatypes.TopicPartition{Topic: ts.Topic, Partition: part}] = struct{}{}
		}
	}

	for tp := range wanted {
		if _, tracked := p.stopOnce[tp]; tracked {
			continue
		}
		tctx, cancel := context.WithCancel(ctx)
		p.stopOnce[tp] = cancel
		go p.pollPartition(tctx, tp)
	}

	for tp, cancel := range p.stopOnce {
		if _, stillWanted := wanted[tp]; !stillWanted {
			cancel()
			delete(p.stopOnce, tp)
		}
	}
}

func (p *Poller) stopAll() {
	for _, cancel := range p.stopOnce {
		cancel()
	}
	p.stopOnce = make(map[kafkatypes.TopicPartition]context.CancelFunc)
}

func (p *Poller) pollPartition(ctx context.Context, tp kafkatypes.TopicPartition) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset, err := p.client.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
			if err != nil {
				p.log.Errorf("fetching watermark for %s: %v", tp, err)
				continue
			}
			p.register.Append(tp, kafkatypes.WatermarkSample{Offset: offset, At: time.Now()})
		}
	}
}

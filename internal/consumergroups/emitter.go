// Package consumergroups emits periodic snapshots of the cluster's
// consumer groups and their membership, and maintains the authoritative
// name -> GroupWithMembers register built from those snapshots.
package consumergroups

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
)

// Snapshot is one fetch_group_list result.
type Snapshot struct {
	Fetched time.Time
	Groups  []kafkatypes.GroupWithMembers
}

// Admin is the subset of sarama.ClusterAdmin this emitter calls.
type Admin interface {
	ListConsumerGroups() (map[string]string, error)
	DescribeConsumerGroups(groups []string) ([]*sarama.GroupDescription, error)
}

// Emitter periodically fetches the consumer group list and publishes it
// on the channel returned by Out, following the same fixed-interval
// ticker-plus-select shape as clusterstatus.Emitter.
type Emitter struct {
	admin Admin
	out   chan Snapshot

	fetchInterval time.Duration
	fetchTimeout  time.Duration
	sendTimeout   time.Duration

	log logger.Logger
}

// NewEmitter builds an Emitter with a depth-1 output channel (spec.md §4.1's
// "channel depth 1" row for consumer groups).
func NewEmitter(admin Admin, fetchInterval, fetchTimeout, sendTimeout time.Duration) *Emitter {
	return &Emitter{
		admin:         admin,
		out:           make(chan Snapshot, 1),
		fetchInterval: fetchInterval,
		fetchTimeout:  fetchTimeout,
		sendTimeout:   sendTimeout,
		log:           logger.New("consumer_groups"),
	}
}

// Out returns the channel snapshots are published on. It closes once Run
// returns.
func (e *Emitter) Out() <-chan Snapshot {
	return e.out
}

// Run fetches the group list every fetchInterval until stop closes.
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
				e.log.Errorf("fetching consumer group list: %v", err)
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
	names, err := e.admin.ListConsumerGroups()
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing consumer groups: %w", err)
	}
	if len(names) == 0 {
		return Snapshot{Fetched: time.Now()}, nil
	}

	groupNames := make([]string, 0, len(names))
	for name := range names {
		groupNames = append(groupNames, name)
	}

	descriptions, err := e.admin.DescribeConsumerGroups(groupNames)
	if err != nil {
		return Snapshot{}, fmt.Errorf("describing consumer groups: %w", err)
	}

	snap := Snapshot{Fetched: time.Now()}
	for _, d := range descriptions {
		snap.Groups = append(snap.Groups, describeToGroupWithMembers(d))
	}
	return snap, nil
}

func describeToGroupWithMembers(d *sarama.GroupDescription) kafkatypes.GroupWithMembers {
	gwm := kafkatypes.GroupWithMembers{
		Group: kafkatypes.Group{
			Name:         d.GroupId,
			State:        d.State,
			Protocol:     d.Protocol,
			ProtocolType: d.ProtocolType,
		},
		Members: make(map[string]kafkatypes.MemberWithAssignment, len(d.Members)),
	}

	for memberID, m := range d.Members {
		assignment := map[kafkatypes.TopicPartition]struct{}{}
		if ga, err := m.GetMemberAssignment(); err == nil && ga != nil {
			for topic, partitions := range ga.Topics {
				for _, p := range partitions {
					assignment[kafkatypes.TopicPartition{Topic: topic, Partition: p}] = struct{}{}
				}
			}
		}
		gwm.Members[memberID] = kafkatypes.MemberWithAssignment{
			Member: kafkatypes.Member{
				ID:         memberID,
				ClientID:   m.ClientId,
				ClientHost: m.ClientHost,
			},
			Assignment: assignment,
		}
	}

	return gwm
}

func (e *Emitter) send(snap Snapshot, stop <-chan struct{}) {
	timer := time.NewTimer(e.sendTimeout)
	defer timer.Stop()

	select {
	case e.out <- snap:
	case <-timer.C:
		e.log.Errorf("dropping consumer groups snapshot, downstream saturated after %s", e.sendTimeout)
	case <-stop:
	}
}

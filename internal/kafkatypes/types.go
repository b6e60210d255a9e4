// Package kafkatypes holds the value types shared across the lag
// computation core: the immutable snapshots produced by the emitters, and
// the mutable lag records the register builds out of them.
package kafkatypes

import (
	"fmt"
	"time"
)

// TopicPartition identifies a single partition of a topic. It is a plain
// value: two TopicPartitions are equal iff both fields match.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Broker is a snapshot of a single cluster broker, replaced wholesale on
// every cluster metadata fetch.
type Broker struct {
	ID   int32
	Host string
	Port int32
}

// TopicPartitionsStatus describes a topic and the partitions the cluster
// currently reports for it.
type TopicPartitionsStatus struct {
	Topic      string
	Partitions []int32
}

// Member is a consumer group member as reported by the group listing or
// decoded from a GroupMetadata record on the internal offsets topic.
type Member struct {
	ID         string
	ClientID   string
	ClientHost string
}

// Group is the identity and coordinator-reported state of a consumer group.
type Group struct {
	Name         string
	State        string
	Protocol     string
	ProtocolType string
}

// GroupWithMembers is a Group plus its current membership, each member
// paired with the set of partitions assigned to it.
type GroupWithMembers struct {
	Group   Group
	Members map[string]MemberWithAssignment
}

// MemberWithAssignment pairs a Member with the partitions the group
// coordinator assigned to it.
type MemberWithAssignment struct {
	Member     Member
	Assignment map[TopicPartition]struct{}
}

// WatermarkSample is one observation of a partition's high watermark at a
// point in time. Samples are kept in offset (equivalently, time) order.
type WatermarkSample struct {
	Offset int64
	At     time.Time
}

// Lag is the lag state of a group against a single topic partition.
type Lag struct {
	Offset          int64
	OffsetTimestamp time.Time
	Timestamp       time.Time
	OffsetLag       int64
	TimeLag         time.Duration
}

// IsStale reports whether this Lag's OffsetTimestamp is older than the
// given staleness window, as of now.
func (l Lag) IsStale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(l.OffsetTimestamp) > staleAfter
}

// LagWithOwner pairs an optional Lag with an optional owning Member; either
// may be present independently of the other.
type LagWithOwner struct {
	Lag   *Lag
	Owner *Member
}

// GroupWithLag is a Group plus its lag-by-partition map, as maintained by
// the LagRegister.
type GroupWithLag struct {
	Group               Group
	LagByTopicPartition map[TopicPartition]LagWithOwner
}

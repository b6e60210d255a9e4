package lagregister

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/kcerrors"
	"github.com/kafkesc/kcl-lag-exporter/internal/offsetstopic"
)

type fakeCG struct {
	groups map[string]kafkatypes.GroupWithMembers
	hash   string
}

func (f *fakeCG) GetGroups() []string {
	names := make([]string, 0, len(f.groups))
	for n := range f.groups {
		names = append(names, n)
	}
	return names
}

func (f *fakeCG) GetGroup(name string) (kafkatypes.GroupWithMembers, bool) {
	g, ok := f.groups[name]
	return g, ok
}

func (f *fakeCG) GetHash() string { return f.hash }

type fakePO struct {
	latest map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample
}

func (f *fakePO) EstimateOffsetLag(tp kafkatypes.TopicPartition, committed int64) (int64, error) {
	s, ok := f.latest[tp]
	if !ok {
		return 0, kcerrors.ErrNoData
	}
	lag := s.Offset - committed
	if lag < 0 {
		lag = 0
	}
	return lag, nil
}

func (f *fakePO) EstimateTimeLag(tp kafkatypes.TopicPartition, committed int64, committedAt time.Time) (time.Duration, error) {
	s, ok := f.latest[tp]
	if !ok {
		return 0, kcerrors.ErrNoData
	}
	return s.At.Sub(committedAt), nil
}

func (f *fakePO) GetLatestTrackedOffset(tp kafkatypes.TopicPartition) (kafkatypes.WatermarkSample, error) {
	s, ok := f.latest[tp]
	if !ok {
		return kafkatypes.WatermarkSample{}, kcerrors.ErrNoData
	}
	return s, nil
}

func tp(topic string, partition int32) kafkatypes.TopicPartition {
	return kafkatypes.TopicPartition{Topic: topic, Partition: partition}
}

// S3: an offset commit for an unknown group is warned about and dropped
// without mutating the register.
func TestHandleOffsetCommit_S3_UnknownGroupDropped(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.handleOffsetCommit(offsetstopic.OffsetCommit{Group: "ghost", Topic: "t", Partition: 0, Offset: 10})

	assert.Empty(t, r.Snapshot())
}

func TestHandleOffsetCommit_InternalGroupSilentlyDropped(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.handleOffsetCommit(offsetstopic.OffsetCommit{Group: "kcl-internal", Topic: "t", Partition: 0, Offset: 10})

	assert.Empty(t, r.Snapshot())
}

// S4: ownership without commits — a group listing assigns a member to a
// partition before any offset commit is seen; the entry is present with
// Owner set and Lag == nil.
func TestImportGroups_S4_OwnershipWithoutCommits(t *testing.T) {
	member := kafkatypes.Member{ID: "m1"}
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{
		"g1": {
			Group: kafkatypes.Group{Name: "g1"},
			Members: map[string]kafkatypes.MemberWithAssignment{
				"m1": {Member: member, Assignment: map[kafkatypes.TopicPartition]struct{}{tp("orders", 0): {}}},
			},
		},
	}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.importGroups()

	snap := r.Snapshot()
	require.Contains(t, snap, "g1")
	entry := snap["g1"].LagByTopicPartition[tp("orders", 0)]
	require.NotNil(t, entry.Owner)
	assert.Equal(t, "m1", entry.Owner.ID)
	assert.Nil(t, entry.Lag, "no offset commit observed yet")
}

// handleGroupMetadata on a group the register has never imported (via a
// group listing) is a no-op: warn and drop, mirroring
// handleOffsetCommit's unknown-group handling.
func TestHandleGroupMetadata_UnknownGroupDropped(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.handleGroupMetadata(offsetstopic.GroupMetadata{
		Group: "g1",
		Members: []offsetstopic.GroupMetadataMember{
			{MemberID: "m1", ClientID: "c1", ClientHost: "h1"},
		},
	})

	assert.Empty(t, r.Snapshot())
}

func TestHandleGroupMetadata_EmptyMembersDropped(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.handleGroupMetadata(offsetstopic.GroupMetadata{Group: "g1", Members: nil})

	assert.Empty(t, r.Snapshot())
}

func TestHandleOffsetCommit_ComputesLagForKnownGroup(t *testing.T) {
	member := kafkatypes.Member{ID: "m1"}
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{
		"g1": {
			Group: kafkatypes.Group{Name: "g1"},
			Members: map[string]kafkatypes.MemberWithAssignment{
				"m1": {Member: member, Assignment: map[kafkatypes.TopicPartition]struct{}{tp("orders", 0): {}}},
			},
		},
	}, hash: "h1"}
	now := time.Now()
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{
		tp("orders", 0): {Offset: 150, At: now},
	}}
	r := New(cg, po, "kcl-internal", 5*time.Second)
	r.importGroups()

	commitTime := now.Add(-time.Second)
	r.handleOffsetCommit(offsetstopic.OffsetCommit{
		Group: "g1", Topic: "orders", Partition: 0, Offset: 100,
		CommitTimestamp: commitTime.UnixMilli(),
	})

	snap := r.Snapshot()
	entry := snap["g1"].LagByTopicPartition[tp("orders", 0)]
	require.NotNil(t, entry.Lag)
	assert.EqualValues(t, 50, entry.Lag.OffsetLag)
	require.NotNil(t, entry.Owner)
	assert.Equal(t, "m1", entry.Owner.ID)
}

// Regression for the per-entry staleness rule: two entries in one group,
// only the second is stale, and both must be visited - the loop must not
// exit after processing the first entry it finds stale or fresh.
func TestRefresh_PerEntryStaleness_OnlySecondEntryStale(t *testing.T) {
	now := time.Now()
	freshLag := kafkatypes.Lag{Offset: 10, OffsetTimestamp: now, Timestamp: now}
	staleLag := kafkatypes.Lag{Offset: 10, OffsetTimestamp: now.Add(-10 * time.Second), Timestamp: now.Add(-10 * time.Second)}

	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{
		tp("orders", 0): {Offset: 20, At: now},
		tp("orders", 1): {Offset: 30, At: now},
	}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	r.mu.Lock()
	r.groups["g1"] = kafkatypes.GroupWithLag{
		Group: kafkatypes.Group{Name: "g1"},
		LagByTopicPartition: map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner{
			tp("orders", 0): {Lag: &freshLag},
			tp("orders", 1): {Lag: &staleLag},
		},
	}
	r.mu.Unlock()

	r.refresh()

	snap := r.Snapshot()
	entry0 := snap["g1"].LagByTopicPartition[tp("orders", 0)]
	entry1 := snap["g1"].LagByTopicPartition[tp("orders", 1)]

	assert.True(t, entry0.Lag.Timestamp.Equal(now), "fresh entry must be left untouched")
	assert.True(t, entry1.Lag.Timestamp.After(staleLag.Timestamp), "stale entry must be refreshed")
	assert.EqualValues(t, 20, entry1.Lag.OffsetLag)
	assert.True(t, entry1.Lag.OffsetTimestamp.Equal(staleLag.OffsetTimestamp), "offset_timestamp anchors staleness and must not move")
}

func TestIsReady(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{
		"g1": {Group: kafkatypes.Group{Name: "g1"}, Members: map[string]kafkatypes.MemberWithAssignment{}},
	}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)

	assert.False(t, r.IsReady())

	r.importGroups()
	assert.False(t, r.IsReady(), "group known but owns no partitions yet")

	r.mu.Lock()
	gwl := r.groups["g1"]
	gwl.LagByTopicPartition[tp("orders", 0)] = kafkatypes.LagWithOwner{}
	r.groups["g1"] = gwl
	r.mu.Unlock()

	assert.True(t, r.IsReady())
}

func TestImportGroups_RemovesGroupNoLongerKnown(t *testing.T) {
	cg := &fakeCG{groups: map[string]kafkatypes.GroupWithMembers{
		"g1": {Group: kafkatypes.Group{Name: "g1"}, Members: map[string]kafkatypes.MemberWithAssignment{}},
	}}
	po := &fakePO{latest: map[kafkatypes.TopicPartition]kafkatypes.WatermarkSample{}}
	r := New(cg, po, "kcl-internal", 5*time.Second)
	r.importGroups()
	assert.Contains(t, r.Snapshot(), "g1")

	cg.groups = map[string]kafkatypes.GroupWithMembers{}
	r.importGroups()
	assert.NotContains(t, r.Snapshot(), "g1")
}

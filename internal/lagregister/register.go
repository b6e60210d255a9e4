// Package lagregister is the join point of the service: it combines
// decoded offsets-topic events with the ConsumerGroupsRegister's
// membership and the PartitionOffsetsRegister's watermark history into a
// per-group, per-partition lag table, kept current by a single reconciler
// task. State access follows the same sync.RWMutex discipline as the
// teacher's SQLiteTimeseriesStore: one lock guarding a plain map, readers
// far outnumbering writers.
package lagregister

import (
	"context"
	"sync"
	"time"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
	"github.com/kafkesc/kcl-lag-exporter/internal/logger"
	"github.com/kafkesc/kcl-lag-exporter/internal/offsetstopic"
)

// PartitionOffsets is the subset of partitionoffsets.Register the join
// needs: estimators plus the latest tracked sample for Refresh.
type PartitionOffsets interface {
	EstimateOffsetLag(tp kafkatypes.TopicPartition, committedOffset int64) (int64, error)
	EstimateTimeLag(tp kafkatypes.TopicPartition, committedOffset int64, committedTimestamp time.Time) (time.Duration, error)
	GetLatestTrackedOffset(tp kafkatypes.TopicPartition) (kafkatypes.WatermarkSample, error)
}

// ConsumerGroups is the subset of consumergroups.Register the join needs.
type ConsumerGroups interface {
	GetGroups() []string
	GetGroup(name string) (kafkatypes.GroupWithMembers, bool)
	GetHash() string
}

// Register is the group name -> GroupWithLag join table.
type Register struct {
	mu     sync.RWMutex
	groups map[string]kafkatypes.GroupWithLag

	cgReg ConsumerGroups
	poReg PartitionOffsets

	internalGroup string
	staleAfter    time.Duration

	lastHash string
	log      logger.Logger
}

// New builds an empty Register. internalGroup is the offsets-topic
// consumer's own reserved group name (spec.md §6); events about it are
// always silently dropped, never warned about as unknown.
func New(cgReg ConsumerGroups, poReg PartitionOffsets, internalGroup string, staleAfter time.Duration) *Register {
	return &Register{
		groups:        make(map[string]kafkatypes.GroupWithLag),
		cgReg:         cgReg,
		poReg:         poReg,
		internalGroup: internalGroup,
		staleAfter:    staleAfter,
		log:           logger.New("lag_register"),
	}
}

// Snapshot returns a copy of the register's group->lag content, with each
// group's lag-by-partition map copied too, safe for a reader to range over
// without holding the lock.
func (r *Register) Snapshot() map[string]kafkatypes.GroupWithLag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]kafkatypes.GroupWithLag, len(r.groups))
	for k, v := range r.groups {
		lagByTP := make(map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner, len(v.LagByTopicPartition))
		for tp, low := range v.LagByTopicPartition {
			lagByTP[tp] = low
		}
		v.LagByTopicPartition = lagByTP
		out[k] = v
	}
	return out
}

// IsReady reports whether the register holds at least one group with at
// least one partition entry.
func (r *Register) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, gwl := range r.groups {
		if len(gwl.LagByTopicPartition) > 0 {
			return true
		}
	}
	return false
}

// Run is the reconciler task: it awaits offsets-topic events, a reconcile
// tick every reconcileInterval, or shutdown, handling whichever is ready
// (Go's select picks among ready cases at random, with no priority), until
// events closes, stop fires, or ctx is cancelled.
func (r *Register) Run(ctx context.Context, events <-chan offsetstopic.Event, reconcileInterval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		case <-ticker.C:
			if hash := r.cgReg.GetHash(); hash != r.lastHash {
				r.lastHash = hash
				r.importGroups()
			}
			r.refresh()
		}
	}
}

func (r *Register) handleEvent(ev offsetstopic.Event) {
	switch ev.Kind {
	case offsetstopic.EventOffsetCommit:
		r.handleOffsetCommit(ev.OffsetCommit)
	case offsetstopic.EventGroupMetadata:
		r.handleGroupMetadata(ev.GroupMetadata)
	}
}

// importGroups rebuilds membership for every group known to the
// ConsumerGroupsRegister, preserving existing lag values, and removes any
// group the register no longer reports.
func (r *Register) importGroups() {
	known := r.cgReg.GetGroups()
	knownSet := make(map[string]struct{}, len(known))

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range known {
		knownSet[name] = struct{}{}

		gwm, ok := r.cgReg.GetGroup(name)
		if !ok {
			continue
		}

		membersByTP := flattenAssignments(gwm)

		existing, hasExisting := r.groups[name]
		if !hasExisting {
			lagByTP := make(map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner, len(membersByTP))
			for tp, member := range membersByTP {
				m := member
				lagByTP[tp] = kafkatypes.LagWithOwner{Owner: &m}
			}
			r.groups[name] = kafkatypes.GroupWithLag{Group: gwm.Group, LagByTopicPartition: lagByTP}
			continue
		}

		newLagByTP := make(map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner, len(membersByTP))
		for tp, member := range membersByTP {
			m := member
			prior := existing.LagByTopicPartition[tp]
			newLagByTP[tp] = kafkatypes.LagWithOwner{Lag: prior.Lag, Owner: &m}
		}
		r.groups[name] = kafkatypes.GroupWithLag{Group: gwm.Group, LagByTopicPartition: newLagByTP}
	}

	for name := range r.groups {
		if _, ok := knownSet[name]; !ok {
			delete(r.groups, name)
		}
	}
}

func flattenAssignments(gwm kafkatypes.GroupWithMembers) map[kafkatypes.TopicPartition]kafkatypes.Member {
	out := make(map[kafkatypes.TopicPartition]kafkatypes.Member)
	for _, mwa := range gwm.Members {
		for tp := range mwa.Assignment {
			out[tp] = mwa.Member
		}
	}
	return out
}

// handleOffsetCommit implements the OffsetCommit handler: unknown groups
// (other than the internal consumer's own) are warned and dropped; the
// internal consumer's own group is always silently dropped.
func (r *Register) handleOffsetCommit(oc offsetstopic.OffsetCommit) {
	if oc.Group == r.internalGroup {
		return
	}

	tp := kafkatypes.TopicPartition{Topic: oc.Topic, Partition: oc.Partition}
	commitTimestamp := time.UnixMilli(oc.CommitTimestamp)

	r.mu.Lock()
	defer r.mu.Unlock()

	gwl, ok := r.groups[oc.Group]
	if !ok {
		r.log.Warnf("offset commit for unknown group %q, dropping", oc.Group)
		return
	}

	offsetLag, err := r.poReg.EstimateOffsetLag(tp, oc.Offset)
	if err != nil {
		r.log.Debugf("estimating offset lag for %s/%s: %v", oc.Group, tp, err)
		offsetLag = 0
	}
	timeLag, err := r.poReg.EstimateTimeLag(tp, oc.Offset, commitTimestamp)
	if err != nil {
		r.log.Debugf("estimating time lag for %s/%s: %v", oc.Group, tp, err)
		timeLag = 0
	}

	lag := kafkatypes.Lag{
		Offset:          oc.Offset,
		OffsetTimestamp: commitTimestamp,
		Timestamp:       commitTimestamp,
		OffsetLag:       offsetLag,
		TimeLag:         timeLag,
	}

	if gwl.LagByTopicPartition == nil {
		gwl.LagByTopicPartition = make(map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner)
	}
	prior := gwl.LagByTopicPartition[tp]
	prior.Lag = &lag
	gwl.LagByTopicPartition[tp] = prior
	r.groups[oc.Group] = gwl
}

// handleGroupMetadata implements the GroupMetadata handler: metadata for
// the internal consumer's own group is silently dropped, and an empty
// member list is dropped outright (the group may be momentarily idle
// mid-rebalance; dropping lag here would be a false signal). A group not
// already known to the register (it must first arrive via a group
// listing import) is warned about and dropped, mirroring
// handleOffsetCommit's treatment of an unknown group. Otherwise the
// tp->owner map is rebuilt from the union of assigned and owned
// partitions across all members.
func (r *Register) handleGroupMetadata(gm offsetstopic.GroupMetadata) {
	if gm.Group == r.internalGroup {
		return
	}
	if len(gm.Members) == 0 {
		return
	}

	ownerByTP := make(map[kafkatypes.TopicPartition]kafkatypes.Member)
	for _, m := range gm.Members {
		member := kafkatypes.Member{ID: m.MemberID, ClientID: m.ClientID, ClientHost: m.ClientHost}
		for _, pair := range m.AssignedPartitions() {
			ownerByTP[kafkatypes.TopicPartition{Topic: pair.Topic, Partition: pair.Partition}] = member
		}
		for _, pair := range m.OwnedPartitions() {
			ownerByTP[kafkatypes.TopicPartition{Topic: pair.Topic, Partition: pair.Partition}] = member
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	gwl, ok := r.groups[gm.Group]
	if !ok {
		r.log.Warnf("group metadata for unknown group %q, dropping", gm.Group)
		return
	}

	newLagByTP := make(map[kafkatypes.TopicPartition]kafkatypes.LagWithOwner, len(ownerByTP))
	for tp, member := range ownerByTP {
		m := member
		prior := gwl.LagByTopicPartition[tp]
		newLagByTP[tp] = kafkatypes.LagWithOwner{Lag: prior.Lag, Owner: &m}
	}
	gwl.LagByTopicPartition = newLagByTP
	r.groups[gm.Group] = gwl
}

// refresh ages every lag entry: staleness is checked per entry, not
// loop-exited on the first fresh one, so one stale entry in a group
// containing other fresh entries still gets refreshed.
func (r *Register) refresh() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for groupName, gwl := range r.groups {
		for tp, low := range gwl.LagByTopicPartition {
			if low.Lag == nil {
				continue
			}
			if !low.Lag.IsStale(now, r.staleAfter) {
				continue
			}

			if _, err := r.poReg.GetLatestTrackedOffset(tp); err != nil {
				continue
			}

			updated := *low.Lag
			offsetLag, err := r.poReg.EstimateOffsetLag(tp, updated.Offset)
			if err != nil {
				offsetLag = 0
			}
			timeLag, err := r.poReg.EstimateTimeLag(tp, updated.Offset, updated.OffsetTimestamp)
			if err != nil {
				timeLag = 0
			}
			updated.OffsetLag = offsetLag
			updated.TimeLag = timeLag
			updated.Timestamp = now

			low.Lag = &updated
			gwl.LagByTopicPartition[tp] = low
			r.groups[groupName] = gwl
		}
	}
}

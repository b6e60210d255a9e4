package offsetstopic

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// OffsetCommit is a decoded record from the internal offsets topic with
// key version 0 or 1: a group's committed offset for one topic partition.
type OffsetCommit struct {
	Group           string
	Topic           string
	Partition       int32
	Offset          int64
	CommitTimestamp int64 // milliseconds since epoch
}

// GroupMetadata is a decoded record from the internal offsets topic with
// key version 2: the group's current membership, as the coordinator sees
// it.
type GroupMetadata struct {
	Group        string
	ProtocolType string
	Generation   int32
	Protocol     string
	Leader       string
	Members      []GroupMetadataMember
}

// GroupMetadataMember is one member entry inside a GroupMetadata record.
// Subscription and Assignment carry the member's raw, protocol-encoded
// ConsumerProtocolSubscription / ConsumerProtocolAssignment bytes,
// decoded by AssignedPartitions / OwnedPartitions.
type GroupMetadataMember struct {
	MemberID     string
	ClientID     string
	ClientHost   string
	Subscription []byte
	Assignment   []byte
}

// TopicPartitionPair is a bare (topic, partition) pair, used to avoid this
// package importing kafkatypes for what is otherwise a pure wire decoder.
type TopicPartitionPair struct {
	Topic     string
	Partition int32
}

// AssignedPartitions decodes the member's ConsumerProtocolAssignment bytes
// (version int16, then an array of topic -> partitions) into the set of
// partitions the group coordinator assigned it.
func (m GroupMetadataMember) AssignedPartitions() []TopicPartitionPair {
	return decodeTopicPartitionArray(m.Assignment, true)
}

// OwnedPartitions decodes the member's ConsumerProtocolSubscription bytes'
// owned-partitions field (present for cooperative assignors, version >= 1)
// into the set of partitions the member claims to already own.
func (m GroupMetadataMember) OwnedPartitions() []TopicPartitionPair {
	return decodeTopicPartitionArray(m.Subscription, false)
}

// decodeTopicPartitionArray decodes the common
// "array<topic string, partitions []int32>" shape shared by
// ConsumerProtocolAssignment and (for version >= 1) the owned-partitions
// tail of ConsumerProtocolSubscription. isAssignment selects which of the
// two schemas to parse the leading fields with, since the subscription
// schema has an extra topics array and user data before owned partitions.
func decodeTopicPartitionArray(data []byte, isAssignment bool) []TopicPartitionPair {
	if len(data) == 0 {
		return nil
	}
	r := newReader(data)

	if _, err := r.int16(); err != nil { // version
		return nil
	}

	if !isAssignment {
		topicCount, err := r.int32()
		if err != nil {
			return nil
		}
		for i := int32(0); i < topicCount; i++ {
			if _, err := r.str(); err != nil {
				return nil
			}
		}
		if _, err := r.bytesField(); err != nil { // user_data
			return nil
		}
	}

	count, err := r.int32()
	if err != nil {
		return nil
	}

	var pairs []TopicPartitionPair
	for i := int32(0); i < count; i++ {
		topic, err := r.str()
		if err != nil {
			return pairs
		}
		partCount, err := r.int32()
		if err != nil {
			return pairs
		}
		for j := int32(0); j < partCount; j++ {
			p, err := r.int32()
			if err != nil {
				return pairs
			}
			pairs = append(pairs, TopicPartitionPair{Topic: topic, Partition: p})
		}
	}
	return pairs
}

// reader is a minimal cursor over Kafka's wire primitives: big-endian
// fixed-width ints, and (int16-length-prefixed string / int32-length-
// prefixed bytes) as used throughout the broker's internal record schemas.
type reader struct {
	buf *bytes.Reader
}

func newReader(b []byte) *reader { return &reader{buf: bytes.NewReader(b)} }

func (r *reader) int16() (int16, error) {
	var v int16
	err := binary.Read(r.buf, binary.BigEndian, &v)
	return v, err
}

func (r *reader) int32() (int32, error) {
	var v int32
	err := binary.Read(r.buf, binary.BigEndian, &v)
	return v, err
}

func (r *reader) int64() (int64, error) {
	var v int64
	err := binary.Read(r.buf, binary.BigEndian, &v)
	return v, err
}

func (r *reader) str() (string, error) {
	n, err := r.int16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := r.buf.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// keyVersion reads the two-byte version tag every record on the offsets
// topic starts with.
func keyVersion(key []byte) (int16, *reader, error) {
	r := newReader(key)
	v, err := r.int16()
	if err != nil {
		return 0, nil, fmt.Errorf("reading key version: %w", err)
	}
	return v, r, nil
}

// decodeOffsetCommit decodes a key version 0/1 record: key holds
// group/topic/partition, value holds the committed offset and its commit
// timestamp.
func decodeOffsetCommit(keyR *reader, value []byte) (OffsetCommit, error) {
	group, err := keyR.str()
	if err != nil {
		return OffsetCommit{}, fmt.Errorf("reading group from key: %w", err)
	}
	topic, err := keyR.str()
	if err != nil {
		return OffsetCommit{}, fmt.Errorf("reading topic from key: %w", err)
	}
	partition, err := keyR.int32()
	if err != nil {
		return OffsetCommit{}, fmt.Errorf("reading partition from key: %w", err)
	}

	valR := newReader(value)
	if _, err := valR.int16(); err != nil { // value schema version
		return OffsetCommit{}, fmt.Errorf("reading value version: %w", err)
	}
	offset, err := valR.int64()
	if err != nil {
		return OffsetCommit{}, fmt.Errorf("reading offset: %w", err)
	}
	if _, err := valR.str(); err != nil { // metadata, unused
		return OffsetCommit{}, fmt.Errorf("reading metadata: %w", err)
	}
	commitTimestamp, err := valR.int64()
	if err != nil {
		return OffsetCommit{}, fmt.Errorf("reading commit timestamp: %w", err)
	}

	return OffsetCommit{
		Group:           group,
		Topic:           topic,
		Partition:       partition,
		Offset:          offset,
		CommitTimestamp: commitTimestamp,
	}, nil
}

// decodeGroupMetadata decodes a key version 2 record: key holds just the
// group name, value holds protocol info and the member list.
func decodeGroupMetadata(keyR *reader, value []byte) (GroupMetadata, error) {
	group, err := keyR.str()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading group from key: %w", err)
	}

	valR := newReader(value)
	if _, err := valR.int16(); err != nil { // value schema version
		return GroupMetadata{}, fmt.Errorf("reading value version: %w", err)
	}
	protocolType, err := valR.str()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading protocol type: %w", err)
	}
	generation, err := valR.int32()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading generation: %w", err)
	}
	protocol, err := valR.str()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading protocol: %w", err)
	}
	leader, err := valR.str()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading leader: %w", err)
	}
	memberCount, err := valR.int32()
	if err != nil {
		return GroupMetadata{}, fmt.Errorf("reading member count: %w", err)
	}

	members := make([]GroupMetadataMember, 0, memberCount)
	for i := int32(0); i < memberCount; i++ {
		memberID, err := valR.str()
		if err != nil {
			return GroupMetadata{}, fmt.Errorf("reading member id: %w", err)
		}
		clientID, err := valR.str()
		if err != nil {
			return GroupMetadata{}, fmt.Errorf("reading client id: %w", err)
		}
		clientHost, err := valR.str()
		if err != nil {
			return GroupMetadata{}, fmt.Errorf("reading client host: %w", err)
		}
		subscription, err := valR.bytesField()
		if err != nil {
			return GroupMetadata{}, fmt.Errorf("reading subscription: %w", err)
		}
		assignment, err := valR.bytesField()
		if err != nil {
			return GroupMetadata{}, fmt.Errorf("reading assignment: %w", err)
		}
		members = append(members, GroupMetadataMember{
			MemberID:     memberID,
			ClientID:     clientID,
			ClientHost:   clientHost,
			Subscription: subscription,
			Assignment:   assignment,
		})
	}

	return GroupMetadata{
		Group:        group,
		ProtocolType: protocolType,
		Generation:   generation,
		Protocol:     protocol,
		Leader:       leader,
		Members:      members,
	}, nil
}

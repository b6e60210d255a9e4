package consumergroups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
)

func group(name string, memberIDs ...string) kafkatypes.GroupWithMembers {
	members := make(map[string]kafkatypes.MemberWithAssignment, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = kafkatypes.MemberWithAssignment{
			Member:     kafkatypes.Member{ID: id},
			Assignment: map[kafkatypes.TopicPartition]struct{}{},
		}
	}
	return kafkatypes.GroupWithMembers{
		Group:   kafkatypes.Group{Name: name, State: "Stable"},
		Members: members,
	}
}

func TestRegister_Import_ReplacesWholesale(t *testing.T) {
	r := NewRegister()
	r.Import(Snapshot{Fetched: time.Now(), Groups: []kafkatypes.GroupWithMembers{group("a", "m1")}})
	assert.Equal(t, []string{"a"}, r.GetGroups())

	r.Import(Snapshot{Fetched: time.Now(), Groups: []kafkatypes.GroupWithMembers{group("b", "m1")}})
	assert.Equal(t, []string{"b"}, r.GetGroups())

	_, ok := r.GetGroup("a")
	assert.False(t, ok, "group removed in the later snapshot must disappear")
}

func TestRegister_GetHash_StableUnderIdenticalContent(t *testing.T) {
	r := NewRegister()
	r.Import(Snapshot{Groups: []kafkatypes.GroupWithMembers{group("a", "m1", "m2")}})
	h1 := r.GetHash()

	r.Import(Snapshot{Groups: []kafkatypes.GroupWithMembers{group("a", "m2", "m1")}})
	h2 := r.GetHash()

	assert.Equal(t, h1, h2, "hash must not depend on member iteration order")
}

func TestRegister_GetHash_ChangesWithContent(t *testing.T) {
	r := NewRegister()
	r.Import(Snapshot{Groups: []kafkatypes.GroupWithMembers{group("a", "m1")}})
	h1 := r.GetHash()

	r.Import(Snapshot{Groups: []kafkatypes.GroupWithMembers{group("a", "m1", "m2")}})
	h2 := r.GetHash()

	assert.NotEqual(t, h1, h2)
}

func TestRegister_GetGroup_ReturnsSnapshot(t *testing.T) {
	r := NewRegister()
	r.Import(Snapshot{Groups: []kafkatypes.GroupWithMembers{group("a", "m1")}})

	g, ok := r.GetGroup("a")
	require.True(t, ok)
	assert.Equal(t, "a", g.Group.Name)
	assert.Len(t, g.Members, 1)
}

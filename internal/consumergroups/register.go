package consumergroups

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/kafkesc/kcl-lag-exporter/internal/kafkatypes"
)

// Register is the authoritative name -> GroupWithMembers map, replaced
// wholesale on every consumer-group snapshot, guarded by a single
// sync.RWMutex (reads dominate: every LagRegister reconcile tick reads it,
// writes happen once per fetch interval).
type Register struct {
	mu     sync.RWMutex
	groups map[string]kafkatypes.GroupWithMembers
	hash   string
}

// NewRegister returns an empty Register.
func NewRegister() *Register {
	return &Register{groups: make(map[string]kafkatypes.GroupWithMembers)}
}

// Import replaces the register's content wholesale with snap's groups and
// recomputes the version token from a canonicalized serialization.
func (r *Register) Import(snap Snapshot) {
	groups := make(map[string]kafkatypes.GroupWithMembers, len(snap.Groups))
	for _, g := range snap.Groups {
		groups[g.Group.Name] = g
	}

	r.mu.Lock()
	r.groups = groups
	r.hash = canonicalHash(groups)
	r.mu.Unlock()
}

// GetGroups returns the current set of group names.
func (r *Register) GetGroups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetGroup returns a copy of the named group's membership, if present.
func (r *Register) GetGroup(name string) (kafkatypes.GroupWithMembers, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	return g, ok
}

// GetHash returns the current version token. Two Imports that produce the
// same canonicalized content return the same token.
func (r *Register) GetHash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash
}

// canonicalHash hashes a sorted-by-name, sorted-by-member-id serialization
// of the group map, so the token is stable regardless of map iteration
// order (spec.md §9: "sorted by group name, members sorted by id, all
// leaf strings included").
func canonicalHash(groups map[string]kafkatypes.GroupWithMembers) string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		g := groups[name]
		h.Write([]byte(g.Group.Name))
		h.Write([]byte{0})
		h.Write([]byte(g.Group.State))
		h.Write([]byte{0})
		h.Write([]byte(g.Group.Protocol))
		h.Write([]byte{0})
		h.Write([]byte(g.Group.ProtocolType))
		h.Write([]byte{0})

		memberIDs := make([]string, 0, len(g.Members))
		for id := range g.Members {
			memberIDs = append(memberIDs, id)
		}
		sort.Strings(memberIDs)

		for _, id := range memberIDs {
			m := g.Members[id]
			h.Write([]byte(id))
			h.Write([]byte{0})
			h.Write([]byte(m.Member.ClientID))
			h.Write([]byte{0})
			h.Write([]byte(m.Member.ClientHost))
			h.Write([]byte{0})

			tps := make([]string, 0, len(m.Assignment))
			for tp := range m.Assignment {
				tps = append(tps, tp.String())
			}
			sort.Strings(tps)
			for _, tp := range tps {
				h.Write([]byte(tp))
				h.Write([]byte{0})
			}
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

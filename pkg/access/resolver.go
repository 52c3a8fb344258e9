package access

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/topos-sec/topos-engine/pkg/models"
)

// MembershipGraph is the adjacency view of a tenant's group memberships:
// group id -> direct member principal ids.
type MembershipGraph struct {
	members map[uuid.UUID][]uuid.UUID
	types   map[uuid.UUID]models.PrincipalType
}

// NewMembershipGraph builds the adjacency view from membership edges and
// the principals they reference. Principals missing from the slice are
// treated as USERs; that only widens the traversal, never narrows it.
func NewMembershipGraph(memberships []models.GroupMembership, principals []models.Principal) *MembershipGraph {
	g := &MembershipGraph{
		members: make(map[uuid.UUID][]uuid.UUID),
		types:   make(map[uuid.UUID]models.PrincipalType),
	}
	for _, p := range principals {
		g.types[p.ID] = p.Type
	}
	for _, m := range memberships {
		g.members[m.GroupID] = append(g.members[m.GroupID], m.MemberPrincipalID)
	}
	return g
}

// IsGroup reports whether the principal is known to be a group.
func (g *MembershipGraph) IsGroup(id uuid.UUID) bool {
	return g.types[id] == models.PrincipalTypeGroup
}

// Expand returns every principal transitively reachable from start through
// membership edges, start included. A visited set guards against cycles, so
// a malformed graph cannot hang the traversal; members of a cycle all end
// up reachable from each other, which degrades to "cycle members share the
// cycle's rights".
func (g *MembershipGraph) Expand(start uuid.UUID) []uuid.UUID {
	visited := make(map[uuid.UUID]bool)
	stack := []uuid.UUID{start}
	var reached []uuid.UUID

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}
		visited[current] = true
		reached = append(reached, current)

		for _, member := range g.members[current] {
			if !visited[member] {
				stack = append(stack, member)
			}
		}
	}

	return reached
}

// HasCycle reports whether the membership graph contains a cycle, using
// DFS edge coloring. Purely diagnostic; Expand tolerates cycles either way.
func (g *MembershipGraph) HasCycle() bool {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[uuid.UUID]int)

	var visit func(id uuid.UUID) bool
	visit = func(id uuid.UUID) bool {
		color[id] = grey
		for _, member := range g.members[id] {
			switch color[member] {
			case grey:
				return true
			case white:
				if visit(member) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for group := range g.members {
		if color[group] == white {
			if visit(group) {
				return true
			}
		}
	}
	return false
}

// TransitiveMemberCount returns, for each group, the number of distinct
// non-group principals transitively reachable from it. Used for broad-group
// detection by the exposure scorer.
func (g *MembershipGraph) TransitiveMemberCount() map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int, len(g.members))
	for group := range g.members {
		n := 0
		for _, id := range g.Expand(group) {
			if id != group && !g.IsGroup(id) {
				n++
			}
		}
		counts[group] = n
	}
	return counts
}

// Resolver expands raw ACL facts into per-file effective read access.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger.Named("access")}
}

// Resolve computes the set of principals with effective read access to a
// file from its raw ACL entries and the tenant's membership graph. An entry
// granting read-implying rights to a GROUP grants them to every principal
// transitively reachable from that group; INHERITED entries participate in
// the same expansion, since source is provenance only.
//
// The result is the complete replacement set for FileEffectiveAccess: a
// caller persisting it must swap the file's rows wholesale so that stale
// entries cannot survive an ACL shrink. A cyclic membership graph is logged
// as a data-quality warning and resolution proceeds with the degraded
// (union-of-cycle-rights) result.
func (r *Resolver) Resolve(fileID uuid.UUID, entries []models.FileACLEntry, graph *MembershipGraph) []uuid.UUID {
	if graph.HasCycle() {
		r.logger.Warn("cycle detected in group membership graph; cycle members share the cycle's combined rights",
			zap.String("file_id", fileID.String()))
	}

	canRead := make(map[uuid.UUID]bool)
	for _, entry := range entries {
		if !entry.Rights.GrantsRead() {
			continue
		}

		if graph.IsGroup(entry.PrincipalID) {
			for _, reached := range graph.Expand(entry.PrincipalID) {
				canRead[reached] = true
			}
		} else {
			canRead[entry.PrincipalID] = true
		}
	}

	readers := make([]uuid.UUID, 0, len(canRead))
	for id := range canRead {
		readers = append(readers, id)
	}
	return readers
}

package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// HierarchyCacheKey is the config cache key holding the edge set.
const HierarchyCacheKey = "role_hierarchy"

// ErrHierarchyCycle is returned when the edge data reachable from a role contains a cycle.
var ErrHierarchyCycle = errors.New("roles: hierarchy contains a cycle")

// EdgeSource loads the stored hierarchy edges.
type EdgeSource interface {
	ListEdges(ctx context.Context) ([]Edge, error)
}

// Hierarchy answers containment queries over the parent→child relation.
type Hierarchy struct {
	source EdgeSource
	cache  *cache.ConfigCache
	logger *slog.Logger
}

// NewHierarchy builds a Hierarchy. cache may be nil.
func NewHierarchy(source EdgeSource, c *cache.ConfigCache, logger *slog.Logger) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{source: source, cache: c, logger: logger}
}

// Edges returns the current edge set.
func (h *Hierarchy) Edges(ctx context.Context) ([]Edge, error) {
	edges, err := cache.Fetch(ctx, h.cache, HierarchyCacheKey, h.source.ListEdges)
	if err != nil {
		return nil, shared.Server("role hierarchy load", err)
	}
	return edges, nil
}

// InheritsFrom reports whether ancestor is reachable from role by walking child→parent edges.
// It is reflexive. If the reachable part of the graph contains a cycle it returns false
// together with ErrHierarchyCycle.
func (h *Hierarchy) InheritsFrom(ctx context.Context, role, ancestor Role) (bool, error) {
	if role == ancestor {
		return true, nil
	}
	edges, err := h.Edges(ctx)
	if err != nil {
		return false, err
	}
	found, err := reachable(parentIndex(edges), role, ancestor)
	if err != nil {
		h.logger.Error("role hierarchy cycle", slog.String("role", string(role)), slog.String("ancestor", string(ancestor)))
		return false, err
	}
	return found, nil
}

// Adjacency returns role → direct child roles for every catalog role.
func (h *Hierarchy) Adjacency(ctx context.Context) (map[Role][]Role, error) {
	edges, err := h.Edges(ctx)
	if err != nil {
		return nil, err
	}
	return Adjacency(edges), nil
}

// Adjacency builds role → children for every catalog role; children are sorted.
func Adjacency(edges []Edge) map[Role][]Role {
	out := make(map[Role][]Role, len(catalog))
	for _, r := range catalog {
		out[r] = []Role{}
	}
	for _, e := range edges {
		out[e.Parent] = append(out[e.Parent], e.Child)
	}
	for r := range out {
		sort.Slice(out[r], func(i, j int) bool { return out[r][i] < out[r][j] })
	}
	return out
}

// Validate checks the structural invariants: no cycles and every catalog role other than
// Highest has Highest as an ancestor.
func Validate(edges []Edge) error {
	parents := parentIndex(edges)
	var problems []error
	for _, r := range catalog {
		if r == Highest {
			continue
		}
		ok, err := reachable(parents, r, Highest)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", r, err))
			continue
		}
		if !ok {
			problems = append(problems, fmt.Errorf("%s: %s is not an ancestor", r, Highest))
		}
	}
	return errors.Join(problems...)
}

func parentIndex(edges []Edge) map[Role][]Role {
	idx := make(map[Role][]Role, len(edges))
	for _, e := range edges {
		idx[e.Child] = append(idx[e.Child], e.Parent)
	}
	return idx
}

const (
	unvisited = iota
	inProgress
	done
)

// reachable runs an iterative DFS upward from start. Any back edge fails closed.
func reachable(parents map[Role][]Role, start, target Role) (bool, error) {
	type frame struct {
		role Role
		next int
	}
	state := map[Role]int{start: inProgress}
	stack := []frame{{role: start}}
	found := false
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		ps := parents[top.role]
		if top.next >= len(ps) {
			state[top.role] = done
			stack = stack[:len(stack)-1]
			continue
		}
		p := ps[top.next]
		top.next++
		switch state[p] {
		case inProgress:
			return false, ErrHierarchyCycle
		case done:
			continue
		}
		if p == target {
			found = true
		}
		state[p] = inProgress
		stack = append(stack, frame{role: p})
	}
	return found, nil
}

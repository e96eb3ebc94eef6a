package swarm

import (
	"fmt"
	"sort"

	"github.com/scbe-labs/arachne/internal/config"
)

type Role string

const (
	RoleScout    Role = "scout"
	RoleAnalyzer Role = "analyzer"
	RoleSentinel Role = "sentinel"
	RoleReporter Role = "reporter"
)

// Coord places a role on the 2-axis braid lattice. Axes run over {-1, 0, 1}.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// RoleSet is the static role topology: where each role sits on the braid and
// which roles may claim frontier work. Supplied at construction and never
// mutated afterwards.
type RoleSet struct {
	coords    map[Role]Coord
	claimable map[Role]bool
}

// DefaultRoles is the stock four-role topology. Scout and reporter sit on
// opposite ends of the braid, so that one switch is never direct.
func DefaultRoles() *RoleSet {
	return &RoleSet{
		coords: map[Role]Coord{
			RoleScout:    {X: -1, Y: 0},
			RoleAnalyzer: {X: 0, Y: 0},
			RoleSentinel: {X: 0, Y: 1},
			RoleReporter: {X: 1, Y: 0},
		},
		claimable: map[Role]bool{
			RoleScout:    true,
			RoleAnalyzer: true,
		},
	}
}

// RolesFromConfig builds a RoleSet from configuration, falling back to the
// default topology when no coordinates are configured.
func RolesFromConfig(cfg config.RolesConfig) (*RoleSet, error) {
	if len(cfg.Coordinates) == 0 {
		return DefaultRoles(), nil
	}

	rs := &RoleSet{
		coords:    make(map[Role]Coord, len(cfg.Coordinates)),
		claimable: make(map[Role]bool),
	}
	for name, axes := range cfg.Coordinates {
		if name == "" {
			return nil, fmt.Errorf("role with empty name")
		}
		if len(axes) != 2 {
			return nil, fmt.Errorf("role %q: want 2 braid axes, got %d", name, len(axes))
		}
		for _, a := range axes {
			if a < -1 || a > 1 {
				return nil, fmt.Errorf("role %q: braid axis %d outside [-1, 1]", name, a)
			}
		}
		rs.coords[Role(name)] = Coord{X: axes[0], Y: axes[1]}
	}

	for _, name := range cfg.Claimable {
		role := Role(name)
		if _, ok := rs.coords[role]; !ok {
			return nil, fmt.Errorf("claimable role %q has no braid coordinate", name)
		}
		rs.claimable[role] = true
	}
	return rs, nil
}

// Valid reports whether the role exists in the topology.
func (rs *RoleSet) Valid(r Role) bool {
	_, ok := rs.coords[r]
	return ok
}

// Claimable reports whether the role may claim frontier work.
func (rs *RoleSet) Claimable(r Role) bool {
	return rs.claimable[r]
}

// Coordinate returns the braid position of a role.
func (rs *RoleSet) Coordinate(r Role) (Coord, bool) {
	c, ok := rs.coords[r]
	return c, ok
}

// CanSwitch reports whether a transition between two roles is structurally
// valid: both roles exist and their braid coordinates are within Chebyshev
// distance 1.
func (rs *RoleSet) CanSwitch(from, to Role) bool {
	a, ok := rs.coords[from]
	if !ok {
		return false
	}
	b, ok := rs.coords[to]
	if !ok {
		return false
	}
	return chebyshev(a, b) <= 1
}

// Roles lists every configured role in stable order.
func (rs *RoleSet) Roles() []Role {
	out := make([]Role, 0, len(rs.coords))
	for r := range rs.coords {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func chebyshev(a, b Coord) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

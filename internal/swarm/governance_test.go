package swarm

import (
	"testing"
)

func TestVoteOutcome(t *testing.T) {
	tests := []struct {
		name     string
		votes    map[string]bool
		eligible int
		quorum   int
		want     SwitchStatus
	}{
		{"no votes", map[string]bool{}, 3, 2, SwitchPending},
		{"one approval", map[string]bool{"a": true}, 3, 2, SwitchPending},
		{"quorum reached", map[string]bool{"a": true, "b": true}, 3, 2, SwitchApproved},
		{"over quorum", map[string]bool{"a": true, "b": true, "c": true}, 3, 2, SwitchApproved},
		{"quorum unreachable", map[string]bool{"a": false, "b": false}, 3, 2, SwitchDenied},
		{"one rejection still open", map[string]bool{"a": false}, 3, 2, SwitchPending},
		{"single rejection closes tight quorum", map[string]bool{"a": false}, 2, 2, SwitchDenied},
		{"more votes than eligible", map[string]bool{"a": false, "b": false, "c": false}, 2, 2, SwitchDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := voteOutcome(tt.votes, tt.eligible, tt.quorum); got != tt.want {
				t.Errorf("voteOutcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImmediateSwitchWithoutConsensus(t *testing.T) {
	c, _ := newTestCoordinator(t, testSwarmConfig())
	c.RegisterAgent("scout-1", RoleScout)

	req := c.RequestRoleSwitch("scout-1", RoleAnalyzer, "more parsing work")
	if req == nil {
		t.Fatal("valid switch rejected")
	}
	if req.Status != SwitchApproved {
		t.Errorf("status = %q, want approved", req.Status)
	}

	a := c.GetAgent("scout-1")
	if a.Role != RoleAnalyzer || a.RoleSwitches != 1 {
		t.Errorf("agent after switch = %+v", a)
	}
	if got := c.GetRequest(req.ID); got == nil || got.Status != SwitchApproved {
		t.Errorf("archived request = %+v", got)
	}
}

func TestStructurallyInvalidSwitchRejected(t *testing.T) {
	for _, consensus := range []bool{false, true} {
		cfg := testSwarmConfig()
		cfg.RequireConsensus = consensus
		c, _ := newTestCoordinator(t, cfg)
		c.RegisterAgent("scout-1", RoleScout)

		if c.RequestRoleSwitch("scout-1", RoleReporter, "shortcut") != nil {
			t.Errorf("consensus=%v: scout to reporter accepted despite braid distance 2", consensus)
		}
		a := c.GetAgent("scout-1")
		if a.Role != RoleScout || a.RoleSwitches != 0 {
			t.Errorf("consensus=%v: agent mutated by rejected switch: %+v", consensus, a)
		}
	}
}

func TestSwitchRequestRejections(t *testing.T) {
	c, _ := newTestCoordinator(t, testSwarmConfig())
	c.RegisterAgent("scout-1", RoleScout)

	if c.RequestRoleSwitch("scout-1", RoleScout, "same role") != nil {
		t.Error("switch to current role accepted")
	}
	if c.RequestRoleSwitch("nobody", RoleAnalyzer, "x") != nil {
		t.Error("switch for unknown agent accepted")
	}
	if c.RequestRoleSwitch("scout-1", Role("ghost"), "x") != nil {
		t.Error("switch to unknown role accepted")
	}
}

func TestConsensusQuorumApproval(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.RequireConsensus = true
	cfg.VoteQuorum = 2
	c, _ := newTestCoordinator(t, cfg)

	c.RegisterAgent("scout-1", RoleScout)
	c.RegisterAgent("peer-1", RoleAnalyzer)
	c.RegisterAgent("peer-2", RoleSentinel)

	req := c.RequestRoleSwitch("scout-1", RoleAnalyzer, "rebalance")
	if req == nil || req.Status != SwitchPending {
		t.Fatalf("request = %+v, want pending", req)
	}
	if a := c.GetAgent("scout-1"); a.Role != RoleScout {
		t.Fatal("role changed before approval")
	}

	if st, counted := c.VoteOnRoleSwitch(req.ID, "scout-1", true); counted || st != SwitchPending {
		t.Errorf("requester vote = (%q, %v), want ignored", st, counted)
	}
	if st, counted := c.VoteOnRoleSwitch(req.ID, "peer-1", true); !counted || st != SwitchPending {
		t.Errorf("first approval = (%q, %v), want counted pending", st, counted)
	}
	if st, counted := c.VoteOnRoleSwitch(req.ID, "peer-1", true); counted || st != SwitchPending {
		t.Errorf("duplicate vote = (%q, %v), want ignored", st, counted)
	}
	if st, counted := c.VoteOnRoleSwitch(req.ID, "peer-2", true); !counted || st != SwitchApproved {
		t.Errorf("deciding approval = (%q, %v), want approved", st, counted)
	}

	a := c.GetAgent("scout-1")
	if a.Role != RoleAnalyzer || a.RoleSwitches != 1 {
		t.Errorf("agent after approval = %+v", a)
	}
	if len(c.PendingRequests()) != 0 {
		t.Error("approved request still pending")
	}
	if got := c.GetRequest(req.ID); got == nil || got.Status != SwitchApproved {
		t.Errorf("archived request = %+v", got)
	}
}

func TestConsensusDenial(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.RequireConsensus = true
	cfg.VoteQuorum = 2
	c, _ := newTestCoordinator(t, cfg)

	c.RegisterAgent("scout-1", RoleScout)
	c.RegisterAgent("peer-1", RoleAnalyzer)
	c.RegisterAgent("peer-2", RoleSentinel)

	req := c.RequestRoleSwitch("scout-1", RoleAnalyzer, "rebalance")

	// One rejection leaves one eligible voter; quorum 2 is out of reach.
	if st, counted := c.VoteOnRoleSwitch(req.ID, "peer-1", false); !counted || st != SwitchDenied {
		t.Fatalf("rejection = (%q, %v), want denied", st, counted)
	}
	if a := c.GetAgent("scout-1"); a.Role != RoleScout || a.RoleSwitches != 0 {
		t.Errorf("agent after denial = %+v", a)
	}
	if got := c.GetRequest(req.ID); got == nil || got.Status != SwitchDenied {
		t.Errorf("archived request = %+v", got)
	}
}

func TestVoteEdgeCases(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.RequireConsensus = true
	c, _ := newTestCoordinator(t, cfg)
	c.RegisterAgent("scout-1", RoleScout)
	c.RegisterAgent("peer-1", RoleAnalyzer)

	req := c.RequestRoleSwitch("scout-1", RoleAnalyzer, "x")

	if st, counted := c.VoteOnRoleSwitch("no-such-request", "peer-1", true); counted || st != "" {
		t.Errorf("unknown request vote = (%q, %v), want ignored", st, counted)
	}
	if st, counted := c.VoteOnRoleSwitch(req.ID, "stranger", true); counted || st != SwitchPending {
		t.Errorf("unregistered voter = (%q, %v), want ignored", st, counted)
	}

	if c.RequestRoleSwitch("scout-1", RoleSentinel, "second") != nil {
		t.Error("second pending request for same agent accepted")
	}
}

func TestRemoveRequesterDeniesPending(t *testing.T) {
	cfg := testSwarmConfig()
	cfg.RequireConsensus = true
	c, _ := newTestCoordinator(t, cfg)
	c.RegisterAgent("scout-1", RoleScout)
	c.RegisterAgent("peer-1", RoleAnalyzer)

	req := c.RequestRoleSwitch("scout-1", RoleAnalyzer, "x")
	c.RemoveAgent("scout-1")

	if got := c.GetRequest(req.ID); got == nil || got.Status != SwitchDenied {
		t.Errorf("request after requester removal = %+v", got)
	}
	if len(c.PendingRequests()) != 0 {
		t.Error("pending request survived requester removal")
	}
}

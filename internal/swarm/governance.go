package swarm

import (
	"sort"

	"github.com/google/uuid"

	"github.com/scbe-labs/arachne/internal/natsbus"
)

// RequestRoleSwitch opens a governed role transition for the agent. Nil when
// the agent is unknown, the target equals the current role, the braid
// topology forbids the transition, or the agent already has a pending
// request. Without consensus the switch applies immediately and the
// returned request is already approved.
func (c *Coordinator) RequestRoleSwitch(agentID string, toRole Role, reason string) *RoleSwitchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[agentID]
	if !ok || toRole == a.Role || !c.roles.CanSwitch(a.Role, toRole) {
		return nil
	}
	for _, req := range c.requests {
		if req.AgentID == agentID {
			return nil
		}
	}

	req := &RoleSwitchRequest{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		FromRole:  a.Role,
		ToRole:    toRole,
		Reason:    reason,
		Votes:     make(map[string]bool),
		Status:    SwitchPending,
		CreatedAt: c.now().UTC(),
	}

	if !c.cfg.RequireConsensus {
		c.applySwitch(a, req)
		return cloneRequest(req)
	}

	c.requests[req.ID] = req
	c.publish(natsbus.ChannelGovernance, natsbus.EventSwitchRequested, map[string]any{
		"request_id": req.ID,
		"agent_id":   agentID,
		"from_role":  string(req.FromRole),
		"to_role":    string(req.ToRole),
		"reason":     reason,
	})
	return cloneRequest(req)
}

// VoteOnRoleSwitch casts a vote on a pending request and recomputes its
// outcome. Votes from the requester, unknown voters, unknown requests, or a
// voter who already voted are ignored; the second return reports whether the
// vote counted. An approved request applies the switch; a denied one only
// archives.
func (c *Coordinator) VoteOnRoleSwitch(requestID, voterID string, approve bool) (SwitchStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok {
		return "", false
	}
	if voterID == req.AgentID {
		return req.Status, false
	}
	if _, voted := req.Votes[voterID]; voted {
		return req.Status, false
	}
	if _, registered := c.agents[voterID]; !registered {
		return req.Status, false
	}

	req.Votes[voterID] = approve

	eligible := len(c.agents) - 1 // everyone but the requester
	req.Status = voteOutcome(req.Votes, eligible, c.cfg.VoteQuorum)

	switch req.Status {
	case SwitchApproved:
		delete(c.requests, requestID)
		a := c.agents[req.AgentID]
		c.applySwitch(a, req)
	case SwitchDenied:
		delete(c.requests, requestID)
		c.archiveRequest(req)
		c.publish(natsbus.ChannelGovernance, natsbus.EventSwitchDenied, map[string]any{
			"request_id": req.ID,
			"agent_id":   req.AgentID,
			"approvals":  countApprovals(req.Votes),
			"votes":      len(req.Votes),
		})
	}
	return req.Status, true
}

// voteOutcome derives a request's resolution from its vote map alone:
// approved once approvals reach the quorum, denied once the votes still
// outstanding cannot reach it, pending otherwise. Never both.
func voteOutcome(votes map[string]bool, eligible, quorum int) SwitchStatus {
	approvals := countApprovals(votes)
	if approvals >= quorum {
		return SwitchApproved
	}
	remaining := eligible - len(votes)
	if remaining < 0 {
		remaining = 0
	}
	if approvals+remaining < quorum {
		return SwitchDenied
	}
	return SwitchPending
}

func countApprovals(votes map[string]bool) int {
	n := 0
	for _, approve := range votes {
		if approve {
			n++
		}
	}
	return n
}

// PendingRequests lists open role-switch requests, oldest first.
func (c *Coordinator) PendingRequests() []RoleSwitchRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]RoleSwitchRequest, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, *cloneRequest(req))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetRequest looks up a request by id, pending or resolved.
func (c *Coordinator) GetRequest(id string) *RoleSwitchRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if req, ok := c.requests[id]; ok {
		return cloneRequest(req)
	}
	for i := range c.resolved {
		if c.resolved[i].ID == id {
			return cloneRequest(&c.resolved[i])
		}
	}
	return nil
}

// applySwitch performs the role change, archives the approved request and
// announces it. Caller holds the lock.
func (c *Coordinator) applySwitch(a *Agent, req *RoleSwitchRequest) {
	a.Role = req.ToRole
	a.RoleSwitches++
	req.Status = SwitchApproved
	c.archiveRequest(req)

	c.publish(natsbus.ChannelGovernance, natsbus.EventSwitchApplied, map[string]any{
		"request_id": req.ID,
		"agent_id":   a.ID,
		"from_role":  string(req.FromRole),
		"to_role":    string(req.ToRole),
		"approvals":  countApprovals(req.Votes),
		"switches":   a.RoleSwitches,
	})
}

// denyRequestsOf denies every pending request opened by the agent, used when
// the requester leaves the swarm. Caller holds the lock.
func (c *Coordinator) denyRequestsOf(agentID, reason string) {
	for id, req := range c.requests {
		if req.AgentID != agentID {
			continue
		}
		delete(c.requests, id)
		req.Status = SwitchDenied
		c.archiveRequest(req)
		c.publish(natsbus.ChannelGovernance, natsbus.EventSwitchDenied, map[string]any{
			"request_id": req.ID,
			"agent_id":   req.AgentID,
			"reason":     reason,
		})
	}
}

func (c *Coordinator) archiveRequest(req *RoleSwitchRequest) {
	c.resolved = append(c.resolved, *cloneRequest(req))
	if over := len(c.resolved) - c.cfg.HistoryLimit; over > 0 {
		c.resolved = append(c.resolved[:0], c.resolved[over:]...)
	}
}

func cloneRequest(req *RoleSwitchRequest) *RoleSwitchRequest {
	cp := *req
	cp.Votes = make(map[string]bool, len(req.Votes))
	for voter, approve := range req.Votes {
		cp.Votes[voter] = approve
	}
	return &cp
}

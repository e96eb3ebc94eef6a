package swarm

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scbe-labs/arachne/internal/config"
	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
)

// coordinatorID is the agent id the coordinator publishes under.
const coordinatorID = "coordinator"

// Stats is a combined snapshot across the registry, frontier and bus.
type Stats struct {
	Agents          int                 `json:"agents"`
	ByRole          map[Role]int        `json:"by_role"`
	ByStatus        map[AgentStatus]int `json:"by_status"`
	PendingSwitches int                 `json:"pending_switches"`
	Frontier        frontier.Stats      `json:"frontier"`
	Bus             natsbus.Stats       `json:"bus"`
}

// Coordinator owns the agent registry, hands frontier work to claimable
// roles, scores reported outcomes, and arbitrates role-switch governance.
// All mutation is serialized behind one mutex; the frontier is only ever
// called while that mutex is held, so a pacing check and its claim cannot
// interleave with another agent's.
type Coordinator struct {
	mu       sync.RWMutex
	cfg      config.SwarmConfig
	roles    *RoleSet
	frontier *frontier.Frontier
	bus      *natsbus.Bus

	agents   map[string]*Agent
	requests map[string]*RoleSwitchRequest
	resolved []RoleSwitchRequest
	history  []CrawlRecord
	now      func() time.Time
}

func New(cfg config.SwarmConfig, roles *RoleSet, f *frontier.Frontier, bus *natsbus.Bus) *Coordinator {
	if cfg.MinSafetyScore < 0 {
		cfg.MinSafetyScore = 0
	}
	if cfg.MinSafetyScore > 1 {
		cfg.MinSafetyScore = 1
	}
	if cfg.VoteQuorum < 1 {
		cfg.VoteQuorum = 1
	}
	if cfg.HistoryLimit < 1 {
		cfg.HistoryLimit = 256
	}
	if roles == nil {
		roles = DefaultRoles()
	}

	return &Coordinator{
		cfg:      cfg,
		roles:    roles,
		frontier: f,
		bus:      bus,
		agents:   make(map[string]*Agent),
		requests: make(map[string]*RoleSwitchRequest),
		now:      time.Now,
	}
}

// RegisterAgent admits a new agent in idle state with a full safety score.
// Nil when the id is empty or taken, or the role is not in the topology.
func (c *Coordinator) RegisterAgent(id string, role Role) *Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id == "" || !c.roles.Valid(role) {
		return nil
	}
	if _, exists := c.agents[id]; exists {
		return nil
	}

	a := &Agent{
		ID:           id,
		Role:         role,
		Status:       AgentIdle,
		SafetyScore:  1.0,
		RegisteredAt: c.now().UTC(),
	}
	c.agents[id] = a

	c.publish(natsbus.ChannelLifecycle, natsbus.EventAgentRegistered, map[string]any{
		"agent_id": id,
		"role":     string(role),
	})

	cp := *a
	return &cp
}

// RemoveAgent drops an agent from the registry, releases any frontier
// entries it held, and denies its pending role-switch requests.
func (c *Coordinator) RemoveAgent(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.agents[id]; !ok {
		return false
	}

	released := c.frontier.ReleaseAll(id)
	delete(c.agents, id)
	c.denyRequestsOf(id, "requester removed")

	c.publish(natsbus.ChannelLifecycle, natsbus.EventAgentRemoved, map[string]any{
		"agent_id": id,
		"released": released,
	})
	return true
}

// GetAgent returns a snapshot of one agent, nil if unknown.
func (c *Coordinator) GetAgent(id string) *Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.agents[id]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// Agents returns snapshots of every registered agent, ordered by id.
func (c *Coordinator) Agents() []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AssignNext claims the best eligible frontier entry for the agent. Nil when
// the agent is unknown, quarantined, of a non-claimable role, already
// holding an assignment, or the frontier has nothing eligible.
func (c *Coordinator) AssignNext(agentID string) *frontier.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[agentID]
	if !ok || a.Status == AgentQuarantined || !c.roles.Claimable(a.Role) {
		return nil
	}
	if a.CurrentAssignment != "" {
		return nil
	}

	e := c.frontier.Claim(agentID)
	if e == nil {
		return nil
	}

	a.Status = AgentCrawling
	a.CurrentAssignment = e.URL
	a.AssignedAt = c.now().UTC()

	c.publish(natsbus.ChannelDiscovery, natsbus.EventTaskAssigned, map[string]any{
		"agent_id": agentID,
		"url":      e.URL,
		"domain":   e.Domain,
		"depth":    e.Depth,
		"priority": e.Priority,
	})
	return e
}

// ReportResult consumes a worker's crawl outcome: completes the frontier
// entry, admits discovered URLs, rewards or penalizes the safety score, and
// quarantines the agent if the score falls below the minimum. The whole
// report is rejected when the agent does not hold the entry. Returns the
// count of discovered URLs admitted.
func (c *Coordinator) ReportResult(res CrawlResult) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[res.AgentID]
	if !ok {
		return 0, false
	}

	added, ok := c.frontier.Complete(res.URL, res.AgentID, res.DiscoveredURLs)
	if !ok {
		return 0, false
	}
	c.clearAssignment(a)

	outcome := "completed"
	if res.Safety.Safe {
		c.adjustScore(a, c.cfg.SafeReward)
	} else {
		outcome = "unsafe"
		c.adjustScore(a, -c.cfg.UnsafePenalty*res.Safety.RiskScore)
	}

	c.record(CrawlRecord{
		URL:       res.URL,
		AgentID:   res.AgentID,
		Role:      a.Role,
		Outcome:   outcome,
		RiskScore: res.Safety.RiskScore,
		Added:     added,
		Timestamp: c.now().UTC(),
	})

	c.publish(natsbus.ChannelDiscovery, natsbus.EventCrawlCompleted, map[string]any{
		"agent_id":    res.AgentID,
		"role":        string(a.Role),
		"url":         res.URL,
		"discovered":  len(res.DiscoveredURLs),
		"added":       added,
		"safe":        res.Safety.Safe,
		"risk_score":  res.Safety.RiskScore,
		"duration_ms": res.DurationMs,
	})
	if !res.Safety.Safe {
		c.publish(natsbus.ChannelSafety, natsbus.EventSafetyAlert, map[string]any{
			"agent_id":   res.AgentID,
			"url":        res.URL,
			"risk_score": res.Safety.RiskScore,
			"flags":      res.Safety.Flags,
		})
	}
	c.maybeQuarantine(a)

	return added, true
}

// ReportFailure consumes a failed fetch: fails the frontier entry (requeue
// or terminal), applies the fixed failure penalty, and quarantines on a
// score collapse. Rejected entirely when the agent does not hold the entry.
// The first return reports whether the entry was requeued.
func (c *Coordinator) ReportFailure(url, agentID, reason string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[agentID]
	if !ok {
		return false, false
	}

	requeued, ok := c.frontier.Fail(url, agentID, reason)
	if !ok {
		return false, false
	}
	c.clearAssignment(a)
	c.adjustScore(a, -c.cfg.FailurePenalty)

	c.record(CrawlRecord{
		URL:       url,
		AgentID:   agentID,
		Role:      a.Role,
		Outcome:   "failed",
		Reason:    reason,
		Timestamp: c.now().UTC(),
	})

	c.publish(natsbus.ChannelDiscovery, natsbus.EventCrawlFailed, map[string]any{
		"agent_id": agentID,
		"role":     string(a.Role),
		"url":      url,
		"reason":   reason,
		"requeued": requeued,
	})
	c.maybeQuarantine(a)

	return requeued, true
}

// QuarantineAgent forces an agent into quarantine regardless of its score.
func (c *Coordinator) QuarantineAgent(id, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[id]
	if !ok {
		return false
	}
	if a.Status != AgentQuarantined {
		a.Status = AgentQuarantined
		c.publish(natsbus.ChannelSafety, natsbus.EventQuarantined, map[string]any{
			"agent_id": id,
			"reason":   reason,
			"score":    a.SafetyScore,
		})
	}
	return true
}

// ReleaseFromQuarantine restores a quarantined agent to idle, only when its
// safety score has recovered to the minimum.
func (c *Coordinator) ReleaseFromQuarantine(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[id]
	if !ok || a.Status != AgentQuarantined {
		return false
	}
	if a.SafetyScore < c.cfg.MinSafetyScore {
		return false
	}

	a.Status = AgentIdle
	c.publish(natsbus.ChannelSafety, natsbus.EventQuarantineLifted, map[string]any{
		"agent_id": id,
		"score":    a.SafetyScore,
	})
	return true
}

// AdjustSafetyScore applies a manual delta, clamped to [0,1], and runs the
// same auto-quarantine check as reported outcomes.
func (c *Coordinator) AdjustSafetyScore(id string, delta float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.agents[id]
	if !ok {
		return 0, false
	}
	c.adjustScore(a, delta)
	c.maybeQuarantine(a)
	return a.SafetyScore, true
}

// StaleAssignments lists agents whose assignment has been outstanding longer
// than the given duration.
func (c *Coordinator) StaleAssignments(olderThan time.Duration) []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-olderThan)
	var out []Agent
	for _, a := range c.agents {
		if a.CurrentAssignment != "" && a.AssignedAt.Before(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the audit trail of reported outcomes, oldest first. A
// positive limit keeps only the newest records.
func (c *Coordinator) History(limit int) []CrawlRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h := c.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]CrawlRecord, len(h))
	copy(out, h)
	return out
}

// GetStats snapshots the registry together with frontier and bus counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Agents:          len(c.agents),
		ByRole:          make(map[Role]int),
		ByStatus:        make(map[AgentStatus]int),
		PendingSwitches: len(c.requests),
		Frontier:        c.frontier.Stats(),
	}
	if c.bus != nil {
		s.Bus = c.bus.Stats()
	}
	for _, a := range c.agents {
		s.ByRole[a.Role]++
		s.ByStatus[a.Status]++
	}
	return s
}

// clearAssignment drops the agent's outstanding assignment and returns it to
// idle unless it sits in quarantine. Caller holds the lock.
func (c *Coordinator) clearAssignment(a *Agent) {
	a.CurrentAssignment = ""
	a.AssignedAt = time.Time{}
	if a.Status == AgentCrawling {
		a.Status = AgentIdle
	}
}

func (c *Coordinator) adjustScore(a *Agent, delta float64) {
	s := a.SafetyScore + delta
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	a.SafetyScore = s
}

// maybeQuarantine quarantines the agent when its score sits below the
// minimum. Caller holds the lock.
func (c *Coordinator) maybeQuarantine(a *Agent) {
	if a.SafetyScore >= c.cfg.MinSafetyScore || a.Status == AgentQuarantined {
		return
	}
	a.Status = AgentQuarantined
	slog.Info("agent quarantined on safety score", "agent", a.ID, "score", a.SafetyScore)
	c.publish(natsbus.ChannelSafety, natsbus.EventQuarantined, map[string]any{
		"agent_id": a.ID,
		"reason":   "safety score below minimum",
		"score":    a.SafetyScore,
	})
}

func (c *Coordinator) record(r CrawlRecord) {
	c.history = append(c.history, r)
	if over := len(c.history) - c.cfg.HistoryLimit; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

// publish emits a coordinator event on the bus. Publication failures are
// logged and swallowed; coordination state never depends on delivery.
func (c *Coordinator) publish(channel, event string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	if _, err := c.bus.Publish(coordinatorID, channel, event, payload, nil); err != nil {
		slog.Warn("coordinator event publish failed", "channel", channel, "event", event, "error", err)
	}
}

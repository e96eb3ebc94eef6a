package swarm

import "time"

type AgentStatus string

const (
	AgentIdle        AgentStatus = "idle"
	AgentCrawling    AgentStatus = "crawling"
	AgentQuarantined AgentStatus = "quarantined"
)

// Agent is one registered worker. CurrentAssignment holds the canonical URL
// the agent is working on, empty while idle.
type Agent struct {
	ID                string      `json:"id"`
	Role              Role        `json:"role"`
	Status            AgentStatus `json:"status"`
	SafetyScore       float64     `json:"safety_score"`
	RoleSwitches      int         `json:"role_switches"`
	CurrentAssignment string      `json:"current_assignment,omitempty"`
	AssignedAt        time.Time   `json:"assigned_at"`
	RegisteredAt      time.Time   `json:"registered_at"`
}

// SafetyAssessment is the verdict an external classifier attaches to a crawl
// result. RiskScore runs over [0,1].
type SafetyAssessment struct {
	Safe      bool     `json:"safe"`
	RiskScore float64  `json:"risk_score"`
	Flags     []string `json:"flags,omitempty"`
}

// CrawlResult is what a worker reports back after fetching a claimed URL.
// Consumed on receipt; only a compact record survives in the history.
type CrawlResult struct {
	URL            string           `json:"url"`
	AgentID        string           `json:"agent_id"`
	Role           Role             `json:"role"`
	DiscoveredURLs []string         `json:"discovered_urls,omitempty"`
	ExtractedData  map[string]any   `json:"extracted_data,omitempty"`
	Safety         SafetyAssessment `json:"safety"`
	Timestamp      time.Time        `json:"timestamp"`
	DurationMs     int64            `json:"duration_ms"`
}

// CrawlRecord is the audit-trail entry kept per reported outcome.
type CrawlRecord struct {
	URL       string    `json:"url"`
	AgentID   string    `json:"agent_id"`
	Role      Role      `json:"role"`
	Outcome   string    `json:"outcome"` // completed, unsafe or failed
	RiskScore float64   `json:"risk_score,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Added     int       `json:"discovered_added"`
	Timestamp time.Time `json:"timestamp"`
}

type SwitchStatus string

const (
	SwitchPending  SwitchStatus = "pending"
	SwitchApproved SwitchStatus = "approved"
	SwitchDenied   SwitchStatus = "denied"
)

// RoleSwitchRequest tracks one governed role transition. Votes maps voter id
// to approve (true) or reject (false).
type RoleSwitchRequest struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	FromRole  Role            `json:"from_role"`
	ToRole    Role            `json:"to_role"`
	Reason    string          `json:"reason"`
	Votes     map[string]bool `json:"votes"`
	Status    SwitchStatus    `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

package frontier

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scbe-labs/arachne/internal/config"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusClaimed   Status = "claimed"
	StatusCrawling  Status = "crawling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// Entry is one unit of crawl work. ClaimedBy is set exactly while the status
// is claimed or crawling.
type Entry struct {
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	Depth       int       `json:"depth"`
	Priority    float64   `json:"priority"`
	Status      Status    `json:"status"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	Retries     int       `json:"retries"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Stats is a snapshot of entry counts.
type Stats struct {
	Queued    int `json:"queued"`
	Claimed   int `json:"claimed"`
	Crawling  int `json:"crawling"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Seen      int `json:"seen"`
	Domains   int `json:"domains"`
}

var phi = (1 + math.Sqrt(5)) / 2

// Frontier is the deduplicated, priority-ordered URL queue. The entries map
// doubles as the seen-set: terminal entries stay in it forever, so a
// canonical URL is admitted at most once over the frontier's lifetime. All
// mutation happens under one mutex; claims consume per-domain pacing tokens
// under the same lock so a pacing check and its claim cannot race.
type Frontier struct {
	mu       sync.RWMutex
	cfg      config.FrontierConfig
	entries  map[string]*Entry
	blocked  []string
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func New(cfg config.FrontierConfig) *Frontier {
	if cfg.BasePriority <= 0 {
		cfg.BasePriority = 1.0
	}
	if cfg.SeedBoost <= 0 {
		cfg.SeedBoost = 1.0
	}
	if cfg.RetryDecay <= 0 || cfg.RetryDecay > 1 {
		cfg.RetryDecay = 0.5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	f := &Frontier{
		cfg:      cfg,
		entries:  make(map[string]*Entry),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	for _, pattern := range cfg.BlockedDomains {
		if p := normalizePattern(pattern); p != "" {
			f.blocked = append(f.blocked, p)
		}
	}
	return f
}

func (f *Frontier) priorityAt(depth int) float64 {
	return f.cfg.BasePriority * math.Pow(phi, -float64(depth))
}

// admit inserts a URL if it passes admission: parsable, within the depth
// budget, domain not blocked, never seen before. Caller holds the lock.
func (f *Frontier) admit(raw string, depth int, priority float64) bool {
	if depth > f.cfg.MaxDepth {
		return false
	}
	canon, ok := CanonicalizeURL(raw)
	if !ok {
		return false
	}
	domain := ExtractDomain(canon)
	if f.domainBlocked(domain) {
		return false
	}
	if _, seen := f.entries[canon]; seen {
		return false
	}

	f.entries[canon] = &Entry{
		URL:         canon,
		Domain:      domain,
		Depth:       depth,
		Priority:    priority,
		Status:      StatusQueued,
		FirstSeenAt: f.now().UTC(),
	}
	return true
}

func (f *Frontier) domainBlocked(domain string) bool {
	for _, pattern := range f.blocked {
		if matchesPattern(domain, pattern) {
			return true
		}
	}
	return false
}

// AddSeeds inserts URLs at depth 0 with the seed priority boost, skipping
// anything already seen. Returns the count actually added.
func (f *Frontier) AddSeeds(urls []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	boosted := f.cfg.BasePriority * f.cfg.SeedBoost
	added := 0
	for _, raw := range urls {
		if f.admit(raw, 0, boosted) {
			added++
		}
	}
	return added
}

// Add inserts one URL at the given depth with the depth-decayed priority
// basePriority × φ^(−depth). False on any admission rejection.
func (f *Frontier) Add(raw string, depth int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admit(raw, depth, f.priorityAt(depth))
}

// Claim hands the highest-priority queued entry to the agent, skipping
// entries whose domain has been claimed within the pacing window. Returns
// nil when nothing is eligible.
func (f *Frontier) Claim(agentID string) *Entry {
	if agentID == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var best *Entry
	for _, e := range f.entries {
		if e.Status != StatusQueued {
			continue
		}
		if !f.domainReady(e.Domain) {
			continue
		}
		if best == nil || e.Priority > best.Priority ||
			(e.Priority == best.Priority && e.URL < best.URL) {
			best = e
		}
	}
	if best == nil {
		return nil
	}

	f.limiterFor(best.Domain).AllowN(f.now(), 1)
	best.Status = StatusClaimed
	best.ClaimedBy = agentID

	c := *best
	return &c
}

func (f *Frontier) domainReady(domain string) bool {
	if f.cfg.DomainWindow <= 0 {
		return true
	}
	lim, ok := f.limiters[domain]
	if !ok {
		return true
	}
	return lim.TokensAt(f.now()) >= 1
}

func (f *Frontier) limiterFor(domain string) *rate.Limiter {
	if f.cfg.DomainWindow <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	lim, ok := f.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.cfg.DomainWindow), 1)
		f.limiters[domain] = lim
	}
	return lim
}

// MarkCrawling moves a claimed entry to crawling, only for its claimant.
func (f *Frontier) MarkCrawling(raw, agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.lookup(raw)
	if e == nil || e.Status != StatusClaimed || e.ClaimedBy != agentID {
		return false
	}
	e.Status = StatusCrawling
	return true
}

// Complete finishes an entry held by the agent and feeds each discovered URL
// through admission at depth+1. Returns the count of discovered URLs
// actually added, and false if the agent does not hold the entry.
func (f *Frontier) Complete(raw, agentID string, discovered []string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.lookup(raw)
	if e == nil || !heldBy(e, agentID) {
		return 0, false
	}

	e.Status = StatusCompleted
	e.ClaimedBy = ""

	added := 0
	depth := e.Depth + 1
	for _, u := range discovered {
		if f.admit(u, depth, f.priorityAt(depth)) {
			added++
		}
	}
	return added, true
}

// Fail records a failed attempt. While the retry budget lasts the entry is
// requeued with its priority decayed; after that it is terminally failed and
// never claimable again. The first return reports requeued, the second
// whether the caller held the entry at all.
func (f *Frontier) Fail(raw, agentID, reason string) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.lookup(raw)
	if e == nil || !heldBy(e, agentID) {
		return false, false
	}

	e.Retries++
	if e.Retries <= f.cfg.MaxRetries {
		e.Status = StatusQueued
		e.ClaimedBy = ""
		e.Priority *= f.cfg.RetryDecay
		slog.Debug("frontier: entry requeued", "url", e.URL, "retries", e.Retries, "reason", reason)
		return true, true
	}

	e.Status = StatusFailed
	e.ClaimedBy = ""
	slog.Debug("frontier: entry failed terminally", "url", e.URL, "retries", e.Retries, "reason", reason)
	return false, true
}

// Release returns a held entry to the queue without penalty.
func (f *Frontier) Release(raw, agentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.release(raw, agentID)
}

func (f *Frontier) release(raw, agentID string) bool {
	e := f.lookup(raw)
	if e == nil || !heldBy(e, agentID) {
		return false
	}
	e.Status = StatusQueued
	e.ClaimedBy = ""
	return true
}

// ReleaseAll releases every entry the agent holds and reports how many.
func (f *Frontier) ReleaseAll(agentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	released := 0
	for _, e := range f.entries {
		if heldBy(e, agentID) {
			e.Status = StatusQueued
			e.ClaimedBy = ""
			released++
		}
	}
	return released
}

// BlockDomain adds a pattern to the blocklist and terminally blocks every
// queued entry it matches, returning how many entries were blocked.
func (f *Frontier) BlockDomain(pattern string) int {
	p := normalizePattern(pattern)
	if p == "" {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	known := false
	for _, existing := range f.blocked {
		if existing == p {
			known = true
			break
		}
	}
	if !known {
		f.blocked = append(f.blocked, p)
	}

	blocked := 0
	for _, e := range f.entries {
		if e.Status == StatusQueued && matchesPattern(e.Domain, p) {
			e.Status = StatusBlocked
			blocked++
		}
	}
	return blocked
}

func heldBy(e *Entry, agentID string) bool {
	return (e.Status == StatusClaimed || e.Status == StatusCrawling) &&
		agentID != "" && e.ClaimedBy == agentID
}

func (f *Frontier) lookup(raw string) *Entry {
	canon, ok := CanonicalizeURL(raw)
	if !ok {
		return nil
	}
	return f.entries[canon]
}

// GetEntry returns a snapshot of one entry, or nil if the URL was never
// admitted.
func (f *Frontier) GetEntry(raw string) *Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e := f.lookup(raw)
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Entries returns snapshots of every entry with the given status, or all
// entries when status is empty, ordered by priority (highest first).
func (f *Frontier) Entries(status Status) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Entry
	for _, e := range f.entries {
		if status == "" || e.Status == status {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Stats counts entries per status.
func (f *Frontier) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var s Stats
	domains := make(map[string]struct{})
	for _, e := range f.entries {
		domains[e.Domain] = struct{}{}
		switch e.Status {
		case StatusQueued:
			s.Queued++
		case StatusClaimed:
			s.Claimed++
		case StatusCrawling:
			s.Crawling++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusBlocked:
			s.Blocked++
		}
	}
	s.Seen = len(f.entries)
	s.Domains = len(domains)
	return s
}

// SetMaxDepth retunes the admission depth budget (config reload).
func (f *Frontier) SetMaxDepth(depth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.MaxDepth = depth
}

// SetPacing swaps the per-domain pacing window and resets the buckets.
func (f *Frontier) SetPacing(window time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg.DomainWindow = window
	f.limiters = make(map[string]*rate.Limiter)
}

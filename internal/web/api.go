package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/scbe-labs/arachne/internal/frontier"
	"github.com/scbe-labs/arachne/internal/natsbus"
	"github.com/scbe-labs/arachne/internal/schedule"
	"github.com/scbe-labs/arachne/internal/store"
	"github.com/scbe-labs/arachne/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Swarm registry
	mux.HandleFunc("POST /api/agents", s.registerAgent)
	mux.HandleFunc("GET /api/agents", s.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", s.getAgent)
	mux.HandleFunc("DELETE /api/agents/{id}", s.removeAgent)
	mux.HandleFunc("POST /api/agents/{id}/assign", s.assignNext)
	mux.HandleFunc("POST /api/agents/{id}/quarantine", s.quarantineAgent)
	mux.HandleFunc("POST /api/agents/{id}/release", s.releaseAgent)

	// Role governance
	mux.HandleFunc("POST /api/agents/{id}/role-switch", s.requestRoleSwitch)
	mux.HandleFunc("GET /api/role-switches", s.listRoleSwitches)
	mux.HandleFunc("POST /api/role-switches/{id}/votes", s.voteOnRoleSwitch)

	// Crawl reporting (workers call these after fetching)
	mux.HandleFunc("POST /api/results", s.reportResult)
	mux.HandleFunc("POST /api/failures", s.reportFailure)

	// Frontier
	mux.HandleFunc("POST /api/frontier/seeds", s.addSeeds)
	mux.HandleFunc("POST /api/frontier/urls", s.addURL)
	mux.HandleFunc("POST /api/frontier/block", s.blockDomain)
	mux.HandleFunc("GET /api/frontier/entries", s.listEntries)
	mux.HandleFunc("GET /api/frontier/entry", s.getEntry)

	// Operations
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /api/history", s.getHistory)
	mux.HandleFunc("GET /api/records", s.listRecords)
	mux.HandleFunc("GET /api/safety-events", s.listSafetyEvents)

	// Seed campaigns
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Credentials
	mux.HandleFunc("GET /api/credentials", s.listCredentials)
	mux.HandleFunc("POST /api/credentials", s.createCredential)
	mux.HandleFunc("DELETE /api/credentials/{id}", s.deleteCredential)
	mux.HandleFunc("GET /api/credentials/for-domain", s.credentialForDomain)
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.ID == "" || body.Role == "" {
		jsonError(w, "id and role are required", http.StatusBadRequest)
		return
	}

	a := s.coord.RegisterAgent(body.ID, swarm.Role(body.Role))
	if a == nil {
		jsonError(w, "registration rejected: id taken or role unknown", http.StatusBadRequest)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.Agents())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	a := s.coord.GetAgent(r.PathValue("id"))
	if a == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, a)
}

func (s *Server) removeAgent(w http.ResponseWriter, r *http.Request) {
	if !s.coord.RemoveAgent(r.PathValue("id")) {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) assignNext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.coord.GetAgent(id) == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}

	e := s.coord.AssignNext(id)
	if e == nil {
		// Nothing eligible right now: frontier empty, domains pacing, or
		// the agent cannot claim.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	jsonResponse(w, e)
}

func (s *Server) quarantineAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "quarantined by operator"
	}

	if !s.coord.QuarantineAgent(r.PathValue("id"), body.Reason) {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "quarantined"})
}

func (s *Server) releaseAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.coord.GetAgent(id) == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	if !s.coord.ReleaseFromQuarantine(id) {
		jsonError(w, "agent not releasable: not quarantined or score below minimum", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]string{"status": "released"})
}

func (s *Server) requestRoleSwitch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		ToRole string `json:"to_role"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ToRole == "" {
		jsonError(w, "to_role is required", http.StatusBadRequest)
		return
	}

	if s.coord.GetAgent(id) == nil {
		jsonError(w, "agent not found", http.StatusNotFound)
		return
	}

	req := s.coord.RequestRoleSwitch(id, swarm.Role(body.ToRole), body.Reason)
	if req == nil {
		jsonError(w, "switch rejected: invalid transition or request already pending", http.StatusBadRequest)
		return
	}
	jsonResponse(w, req)
}

func (s *Server) listRoleSwitches(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.PendingRequests())
}

func (s *Server) voteOnRoleSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VoterID string `json:"voter_id"`
		Approve bool   `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.VoterID == "" {
		jsonError(w, "voter_id is required", http.StatusBadRequest)
		return
	}

	status, ok := s.coord.VoteOnRoleSwitch(r.PathValue("id"), body.VoterID, body.Approve)
	if !ok {
		jsonError(w, "vote rejected", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]any{"status": status})
}

func (s *Server) reportResult(w http.ResponseWriter, r *http.Request) {
	var res swarm.CrawlResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if res.URL == "" || res.AgentID == "" {
		jsonError(w, "url and agent_id are required", http.StatusBadRequest)
		return
	}

	added, ok := s.coord.ReportResult(res)
	if !ok {
		jsonError(w, "result rejected: agent does not hold this entry", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]any{"status": "recorded", "added": added})
}

func (s *Server) reportFailure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL     string `json:"url"`
		AgentID string `json:"agent_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.URL == "" || body.AgentID == "" {
		jsonError(w, "url and agent_id are required", http.StatusBadRequest)
		return
	}

	requeued, ok := s.coord.ReportFailure(body.URL, body.AgentID, body.Reason)
	if !ok {
		jsonError(w, "failure rejected: agent does not hold this entry", http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]any{"status": "recorded", "requeued": requeued})
}

func (s *Server) addSeeds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URLs []string `json:"urls"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.URLs) == 0 {
		jsonError(w, "urls are required", http.StatusBadRequest)
		return
	}

	added := s.front.AddSeeds(body.URLs)
	if added > 0 {
		s.publish(natsbus.ChannelDiscovery, natsbus.EventSeedsAdded, map[string]any{
			"added":  added,
			"source": "api",
		})
	}
	jsonResponse(w, map[string]any{"added": added})
}

func (s *Server) addURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL   string `json:"url"`
		Depth int    `json:"depth"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		jsonError(w, "url is required", http.StatusBadRequest)
		return
	}

	if !s.front.Add(body.URL, body.Depth) {
		jsonError(w, "url rejected: malformed, too deep, blocked, or already seen", http.StatusBadRequest)
		return
	}
	jsonResponse(w, s.front.GetEntry(body.URL))
}

func (s *Server) blockDomain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pattern == "" {
		jsonError(w, "pattern is required", http.StatusBadRequest)
		return
	}

	transitioned := s.front.BlockDomain(body.Pattern)
	s.publish(natsbus.ChannelDiscovery, natsbus.EventDomainBlocked, map[string]any{
		"pattern":      body.Pattern,
		"transitioned": transitioned,
		"source":       "api",
	})
	jsonResponse(w, map[string]any{"transitioned": transitioned})
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	status := frontier.Status(r.URL.Query().Get("status"))
	entries := s.front.Entries(status)
	if entries == nil {
		entries = []frontier.Entry{}
	}
	jsonResponse(w, entries)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		jsonError(w, "url query parameter is required", http.StatusBadRequest)
		return
	}
	e := s.front.GetEntry(url)
	if e == nil {
		jsonError(w, "entry not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, e)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime":    formatUptime(time.Since(s.startedAt)),
		"timestamp": time.Now().UTC(),
		"stats":     s.coord.GetStats(),
	}
	if outcomes, err := s.store.CrawlOutcomeCounts(); err == nil {
		out["outcomes"] = outcomes
	}
	jsonResponse(w, out)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.coord.History(queryLimit(r, 0)))
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)

	var (
		records []store.CrawlRecord
		err     error
	)
	if domain := r.URL.Query().Get("domain"); domain != "" {
		records, err = s.store.ListCrawlRecordsForDomain(domain, limit)
	} else {
		records, err = s.store.ListCrawlRecords(limit)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.CrawlRecord{}
	}
	jsonResponse(w, records)
}

func (s *Server) listSafetyEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListSafetyEvents(r.URL.Query().Get("agent"), queryLimit(r, 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []store.SafetyEvent{}
	}
	jsonResponse(w, events)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sched := range schedules {
		out = append(out, scheduleToAPI(sched))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string   `json:"name"`
		Schedule string   `json:"schedule"`
		Seeds    []string `json:"seeds"`
		Enabled  *bool    `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Schedule == "" || len(body.Seeds) == 0 {
		jsonError(w, "name, schedule, and seeds are required", http.StatusBadRequest)
		return
	}

	// Normalize schedule (handles plain cron strings)
	normalized, err := schedule.Normalize(body.Schedule)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule: %v", err), http.StatusBadRequest)
		return
	}

	seeds, err := json.Marshal(body.Seeds)
	if err != nil {
		jsonError(w, "invalid seeds", http.StatusBadRequest)
		return
	}

	status := "active"
	if body.Enabled != nil && !*body.Enabled {
		status = "paused"
	}

	sched := store.SeedSchedule{
		ID:       uuid.New().String(),
		Name:     body.Name,
		Schedule: normalized,
		Seeds:    string(seeds),
		Status:   status,
	}
	if status == "active" {
		sched.NextRunAt = schedule.NextRun(normalized, time.Now())
	}

	if err := s.store.SaveSchedule(&sched); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(sched))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSchedule(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := s.store.ListCredentials()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if creds == nil {
		creds = []store.Credential{}
	}
	jsonResponse(w, creds)
}

func (s *Server) createCredential(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	ciphertext, nonce, err := s.vault.EncryptString(body.Value)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Saving under an existing name updates it in place.
	id := uuid.New().String()
	if existing, err := s.store.GetCredentialByName(body.Name); err == nil && existing != nil {
		id = existing.ID
	}

	cred := store.Credential{
		ID:          id,
		Name:        body.Name,
		Description: body.Description,
		Value:       ciphertext,
		Nonce:       nonce,
	}
	if err := s.store.SaveCredential(&cred); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved", "id": id})
}

func (s *Server) deleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCredential(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// credentialForDomain hands a worker the decrypted login for a crawl site.
// Credentials are stored under the site's domain as the name.
func (s *Server) credentialForDomain(w http.ResponseWriter, r *http.Request) {
	if s.vault == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return
	}

	domain := r.URL.Query().Get("domain")
	if domain == "" {
		jsonError(w, "domain query parameter is required", http.StatusBadRequest)
		return
	}

	cred, err := s.store.GetCredentialByName(domain)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if cred == nil {
		jsonError(w, "no credential for domain", http.StatusNotFound)
		return
	}

	value, err := s.vault.DecryptString(cred.Value, cred.Nonce)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{
		"name":        cred.Name,
		"description": cred.Description,
		"value":       value,
	})
}

func scheduleToAPI(sched store.SeedSchedule) map[string]any {
	m := map[string]any{
		"id":               sched.ID,
		"name":             sched.Name,
		"schedule":         sched.Schedule,
		"schedule_display": schedule.Describe(sched.Schedule),
		"seeds":            sched.Seeds,
		"enabled":          sched.Status == "active",
		"status":           sched.Status,
	}
	if sched.LastRunAt != nil {
		m["last_run"] = sched.LastRunAt
		m["last_status"] = sched.LastStatus
	}
	if sched.NextRunAt != nil {
		m["next_run"] = sched.NextRunAt
	}
	return m
}

func queryLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

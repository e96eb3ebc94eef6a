package store

import (
	"fmt"
	"time"
)

// CrawlRecord is one persisted crawl outcome, written by the recorder as
// discovery events arrive on the bus.
type CrawlRecord struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Domain     string    `json:"domain"`
	AgentID    string    `json:"agent_id"`
	Role       string    `json:"role,omitempty"`
	Outcome    string    `json:"outcome"`
	RiskScore  float64   `json:"risk_score,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Discovered int       `json:"discovered"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SafetyEvent is one persisted safety-channel occurrence: an alert, a
// quarantine, or a quarantine lift.
type SafetyEvent struct {
	ID        int64     `json:"id"`
	AgentID   string    `json:"agent_id"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason,omitempty"`
	Score     float64   `json:"score,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveCrawlRecord(r *CrawlRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO crawl_records (url, domain, agent_id, role, outcome, risk_score, reason, discovered, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.URL, r.Domain, r.AgentID, r.Role, r.Outcome, r.RiskScore, r.Reason, r.Discovered, r.DurationMs)
	if err != nil {
		return fmt.Errorf("save crawl record: %w", err)
	}
	return nil
}

func scanRecord(sc scanner) (*CrawlRecord, error) {
	r := &CrawlRecord{}
	var role, reason *string
	err := sc.Scan(&r.ID, &r.URL, &r.Domain, &r.AgentID, &role, &r.Outcome,
		&r.RiskScore, &reason, &r.Discovered, &r.DurationMs, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if role != nil {
		r.Role = *role
	}
	if reason != nil {
		r.Reason = *reason
	}
	return r, nil
}

// ListCrawlRecords returns the most recent records in chronological order.
func (s *Store) ListCrawlRecords(limit int) ([]CrawlRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, url, domain, agent_id, role, outcome, risk_score, reason, discovered, duration_ms, created_at
		FROM crawl_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl records: %w", err)
	}
	defer rows.Close()

	var records []CrawlRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// ListCrawlRecordsForDomain returns the most recent records for one domain
// in chronological order.
func (s *Store) ListCrawlRecordsForDomain(domain string, limit int) ([]CrawlRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, url, domain, agent_id, role, outcome, risk_score, reason, discovered, duration_ms, created_at
		FROM crawl_records WHERE domain = ? ORDER BY id DESC LIMIT ?`, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("list crawl records for domain: %w", err)
	}
	defer rows.Close()

	var records []CrawlRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crawl record: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// CrawlOutcomeCounts returns outcome -> count over all persisted records.
func (s *Store) CrawlOutcomeCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT outcome, COUNT(*) FROM crawl_records GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("count crawl outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func (s *Store) SaveSafetyEvent(e *SafetyEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO safety_events (agent_id, event, reason, score, url)
		VALUES (?, ?, ?, ?, ?)`,
		e.AgentID, e.Event, e.Reason, e.Score, e.URL)
	if err != nil {
		return fmt.Errorf("save safety event: %w", err)
	}
	return nil
}

func scanSafetyEvent(sc scanner) (*SafetyEvent, error) {
	e := &SafetyEvent{}
	var reason, url *string
	err := sc.Scan(&e.ID, &e.AgentID, &e.Event, &reason, &e.Score, &url, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		e.Reason = *reason
	}
	if url != nil {
		e.URL = *url
	}
	return e, nil
}

// ListSafetyEvents returns the most recent safety events in chronological
// order, optionally filtered by agent id.
func (s *Store) ListSafetyEvents(agentID string, limit int) ([]SafetyEvent, error) {
	query := `
		SELECT id, agent_id, event, reason, score, url, created_at
		FROM safety_events`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list safety events: %w", err)
	}
	defer rows.Close()

	var events []SafetyEvent
	for rows.Next() {
		e, err := scanSafetyEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan safety event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

package store

import (
	"database/sql"
	"fmt"
	"time"
)

// SeedSchedule is a recurring seed campaign: a batch of seed URLs injected
// into the frontier whenever the schedule fires.
type SeedSchedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Seeds      string     `json:"seeds"` // JSON array of URLs
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanSchedule(sc scanner) (*SeedSchedule, error) {
	sched := &SeedSchedule{}
	var lastStatus, lastError *string
	err := sc.Scan(&sched.ID, &sched.Name, &sched.Schedule, &sched.Seeds, &sched.Status,
		&sched.NextRunAt, &sched.LastRunAt, &lastStatus, &lastError, &sched.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		sched.LastStatus = *lastStatus
	}
	if lastError != nil {
		sched.LastError = *lastError
	}
	return sched, nil
}

func (s *Store) SaveSchedule(sched *SeedSchedule) error {
	_, err := s.db.Exec(`
		INSERT INTO seed_schedules (id, name, schedule, seeds, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			seeds = excluded.seeds,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sched.ID, sched.Name, sched.Schedule, sched.Seeds, sched.Status, sched.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*SeedSchedule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, schedule, seeds, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM seed_schedules WHERE id = ?`, id)
	sched, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sched, nil
}

func (s *Store) ListSchedules() ([]SeedSchedule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, seeds, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM seed_schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []SeedSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

func (s *Store) GetDueSchedules(now time.Time) ([]SeedSchedule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, schedule, seeds, status, next_run_at, last_run_at, last_status, last_error, created_at
		FROM seed_schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []SeedSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateScheduleRun(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE seed_schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateScheduleStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE seed_schedules SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM seed_schedules WHERE id = ?`, id)
	return err
}

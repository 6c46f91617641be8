package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// Store persists finalized cycle records in SQLite, one row per cycle,
// partitioned by target. Findings, trend, and escalation travel as JSON
// columns so the logical record matches the external schema exactly.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Window is the history visible to one cycle: completed cycles ordered
// oldest to newest, plus degraded (failed or incomplete) records kept
// separate so monitoring gaps stay operator-visible without ever counting
// as trend evidence.
type Window struct {
	Cycles []models.Cycle
	Gaps   []models.Cycle
}

// Open opens (and migrates) the cycle store under dataDir.
func Open(dataDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}

	path := filepath.Join(dataDir, "cycles.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cycle store: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cycle store: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS cycles (
		cycle_id        TEXT NOT NULL,
		target          TEXT NOT NULL,
		started_at_ns   INTEGER NOT NULL,
		completed_at_ns INTEGER NOT NULL,
		status          TEXT NOT NULL,
		findings_json   TEXT NOT NULL,
		trend_json      TEXT,
		escalation_json TEXT,
		PRIMARY KEY (target, cycle_id)
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_target_completed ON cycles(target, completed_at_ns);`)
	if err != nil {
		return fmt.Errorf("migrate cycle store: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for maintenance tooling and tests.
func (s *Store) DB() *sql.DB { return s.db }

// SaveCycle appends a finalized cycle record. Records are immutable: a
// second save of the same cycle ID is a constraint violation, never an
// overwrite.
func (s *Store) SaveCycle(ctx context.Context, cycle models.Cycle) error {
	findings, err := json.Marshal(cycle.Findings)
	if err != nil {
		return fmt.Errorf("encode findings: %w", err)
	}

	var trend, escalation any
	if cycle.Trend != nil {
		data, err := json.Marshal(cycle.Trend)
		if err != nil {
			return fmt.Errorf("encode trend: %w", err)
		}
		trend = string(data)
	}
	if cycle.Escalation != nil {
		data, err := json.Marshal(cycle.Escalation)
		if err != nil {
			return fmt.Errorf("encode escalation: %w", err)
		}
		escalation = string(data)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO cycles
		(cycle_id, target, started_at_ns, completed_at_ns, status, findings_json, trend_json, escalation_json)
		VALUES (?,?,?,?,?,?,?,?)`,
		cycle.ID, cycle.Target,
		cycle.StartedAt.UTC().UnixNano(), cycle.CompletedAt.UTC().UnixNano(),
		string(cycle.Status), string(findings), trend, escalation)
	if err != nil {
		return fmt.Errorf("insert cycle %s: %w", cycle.ID, err)
	}
	return nil
}

// LoadRecent returns the trailing history window for a target: at most
// maxCycles completed cycles whose completion lies within maxHours of now,
// oldest first, alongside degraded records from the same window. Corrupt
// rows are skipped with a warning; one bad record never fails the caller.
func (s *Store) LoadRecent(ctx context.Context, target string, maxCycles, maxHours int, now time.Time) (Window, error) {
	cutoff := now.UTC().Add(-time.Duration(maxHours) * time.Hour).UnixNano()

	rows, err := s.db.QueryContext(ctx, `SELECT cycle_id, started_at_ns, completed_at_ns, status,
		findings_json, trend_json, escalation_json
		FROM cycles WHERE target = ? AND completed_at_ns >= ?
		ORDER BY completed_at_ns DESC, cycle_id DESC`, target, cutoff)
	if err != nil {
		return Window{}, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var window Window
	for rows.Next() {
		cycle, err := s.scanCycle(rows, target)
		if err != nil {
			s.logger.Warn("skipping unreadable cycle record", slog.Any("error", err))
			continue
		}
		if cycle.Status == models.CycleCompleted {
			if len(window.Cycles) < maxCycles {
				window.Cycles = append(window.Cycles, cycle)
			}
			continue
		}
		window.Gaps = append(window.Gaps, cycle)
	}
	if err := rows.Err(); err != nil {
		return Window{}, fmt.Errorf("scan cycles: %w", err)
	}

	reverse(window.Cycles)
	reverse(window.Gaps)
	return window, nil
}

func (s *Store) scanCycle(rows *sql.Rows, target string) (models.Cycle, error) {
	var (
		cycle              models.Cycle
		startedNS, doneNS  int64
		status             string
		findingsJSON       string
		trendJSON, escJSON sql.NullString
	)
	if err := rows.Scan(&cycle.ID, &startedNS, &doneNS, &status, &findingsJSON, &trendJSON, &escJSON); err != nil {
		return models.Cycle{}, err
	}

	cycle.Target = target
	cycle.StartedAt = time.Unix(0, startedNS).UTC()
	cycle.CompletedAt = time.Unix(0, doneNS).UTC()
	cycle.Status = models.CycleStatus(status)

	if err := json.Unmarshal([]byte(findingsJSON), &cycle.Findings); err != nil {
		return models.Cycle{}, fmt.Errorf("cycle %s findings: %w", cycle.ID, err)
	}
	if trendJSON.Valid {
		var trend models.TrendReport
		if err := json.Unmarshal([]byte(trendJSON.String), &trend); err != nil {
			return models.Cycle{}, fmt.Errorf("cycle %s trend: %w", cycle.ID, err)
		}
		cycle.Trend = &trend
	}
	if escJSON.Valid {
		var esc models.EscalationDecision
		if err := json.Unmarshal([]byte(escJSON.String), &esc); err != nil {
			return models.Cycle{}, fmt.Errorf("cycle %s escalation: %w", cycle.ID, err)
		}
		cycle.Escalation = &esc
	}
	return cycle, nil
}

// Sweep deletes cycle records older than the retention horizon across all
// targets and returns the number of rows removed.
func (s *Store) Sweep(ctx context.Context, retention time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM cycles WHERE completed_at_ns < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep cycles: %w", err)
	}
	return res.RowsAffected()
}

func reverse(cycles []models.Cycle) {
	for i, j := 0, len(cycles)-1; i < j; i, j = i+1, j-1 {
		cycles[i], cycles[j] = cycles[j], cycles[i]
	}
}

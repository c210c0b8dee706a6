// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 Quorum Labs
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	// SQL driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/quorumhq/quorum/pkg/fault"
)

const createTasksSchemaSQL = `
CREATE TABLE IF NOT EXISTS tasks (
    id VARCHAR(255) PRIMARY KEY,
    session_id VARCHAR(255) NOT NULL,
    state VARCHAR(16) NOT NULL,
    payload_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createTasksIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_tasks_session ON tasks(session_id, created_at)`

// SQLStore persists task snapshots. Execution stays in-memory; the
// store gives completed and failed records a life beyond the process.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (and migrates) a sqlite-backed task store.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.Internal("open task store: %v", err).WithCause(err)
	}
	for _, stmt := range []string{createTasksSchemaSQL, createTasksIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fault.Internal("migrate task store: %v", err).WithCause(err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Save upserts one task snapshot.
func (s *SQLStore) Save(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fault.Internal("marshal task: %v", err).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, session_id, state, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    state = excluded.state,
		    payload_json = excluded.payload_json`,
		t.ID, t.SessionID, string(t.State), string(payload), t.CreatedAt)
	if err != nil {
		return fault.Internal("save task %s: %v", t.ID, err).WithCause(err)
	}
	return nil
}

// Load reads one task snapshot.
func (s *SQLStore) Load(ctx context.Context, taskID string) (Task, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM tasks WHERE id = ?`, taskID).Scan(&payload)
	if err == sql.ErrNoRows {
		return Task{}, fault.NotFound("task %s", taskID)
	}
	if err != nil {
		return Task{}, fault.Internal("load task %s: %v", taskID, err).WithCause(err)
	}
	var t Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return Task{}, fault.Internal("unmarshal task %s: %v", taskID, err).WithCause(err)
	}
	return t, nil
}

// LoadSession reads every task snapshot for a session, oldest first.
func (s *SQLStore) LoadSession(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM tasks WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fault.Internal("load session tasks: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fault.Internal("scan task row: %v", err).WithCause(err)
		}
		var t Task
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fault.Internal("unmarshal task row: %v", err).WithCause(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Internal("iterate tasks: %v", err).WithCause(err)
	}
	return out, nil
}

// PruneTerminal deletes completed, failed, and cancelled tasks created
// before the cutoff.
func (s *SQLStore) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE state IN (?, ?, ?) AND created_at < ?`,
		string(StateCompleted), string(StateFailed), string(StateCancelled), cutoff)
	if err != nil {
		return 0, fault.Internal("prune tasks: %v", err).WithCause(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

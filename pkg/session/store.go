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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	// SQL driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/quorumhq/quorum/pkg/fault"
)

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    kind VARCHAR(16) NOT NULL,
    payload_json TEXT NOT NULL,
    active BOOLEAN NOT NULL,
    last_activity TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createSessionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active, last_activity)`

// SQLStore persists session snapshots. The live service stays
// in-memory; cross-process visibility goes through Save/Load.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (and migrates) a sqlite-backed session store.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.Internal("open session store: %v", err).WithCause(err)
	}
	for _, stmt := range []string{createSessionsSchemaSQL, createSessionsIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fault.Internal("migrate session store: %v", err).WithCause(err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Save upserts one session snapshot.
func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fault.Internal("marshal session: %v", err).WithCause(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, kind, payload_json, active, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    kind = excluded.kind,
		    payload_json = excluded.payload_json,
		    active = excluded.active,
		    last_activity = excluded.last_activity`,
		sess.ID, string(sess.Kind), string(payload), sess.Active, sess.LastActivity, sess.CreatedAt)
	if err != nil {
		return fault.Internal("save session %s: %v", sess.ID, err).WithCause(err)
	}
	return nil
}

// Load reads one session snapshot.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM sessions WHERE id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("session %s", sessionID)
	}
	if err != nil {
		return nil, fault.Internal("load session %s: %v", sessionID, err).WithCause(err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fault.Internal("unmarshal session %s: %v", sessionID, err).WithCause(err)
	}
	return &sess, nil
}

// LoadActive reads every active session snapshot, oldest activity
// first.
func (s *SQLStore) LoadActive(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM sessions WHERE active = ? ORDER BY last_activity`, true)
	if err != nil {
		return nil, fault.Internal("load active sessions: %v", err).WithCause(err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fault.Internal("scan session row: %v", err).WithCause(err)
		}
		var sess Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			return nil, fault.Internal("unmarshal session row: %v", err).WithCause(err)
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Internal("iterate sessions: %v", err).WithCause(err)
	}
	return out, nil
}

// PruneClosed deletes sessions closed before the cutoff.
func (s *SQLStore) PruneClosed(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE active = ? AND last_activity < ?`, false, cutoff)
	if err != nil {
		return 0, fault.Internal("prune sessions: %v", err).WithCause(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

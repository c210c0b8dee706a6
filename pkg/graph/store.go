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

package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	// SQL driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/quorumhq/quorum/pkg/fault"
)

const createGraphNodesSQL = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    graph_id VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    type VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    props_json TEXT,
    source VARCHAR(255),
    source_ts TIMESTAMP,
    PRIMARY KEY (graph_id, id)
)`

const createGraphEdgesSQL = `
CREATE TABLE IF NOT EXISTS graph_edges (
    graph_id VARCHAR(255) NOT NULL,
    type VARCHAR(64) NOT NULL,
    from_id VARCHAR(255) NOT NULL,
    to_id VARCHAR(255) NOT NULL,
    props_json TEXT,
    source VARCHAR(255),
    source_ts TIMESTAMP,
    PRIMARY KEY (graph_id, type, from_id, to_id)
)`

// SQLStore persists graphs by copy-in/copy-out: Save replaces the
// stored copy atomically, Load materializes a fresh in-memory graph.
// Cross-session sharing goes through this store, never through the
// live graph.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (and migrates) a sqlite-backed graph store.
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fault.Internal("open graph store: %v", err).WithCause(err)
	}
	for _, stmt := range []string{createGraphNodesSQL, createGraphEdgesSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fault.Internal("migrate graph store: %v", err).WithCause(err)
		}
	}
	return &SQLStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }

// Save copies the graph into the store under graphID, replacing any
// previous copy.
func (s *SQLStore) Save(ctx context.Context, graphID string, g *Graph) error {
	if graphID == "" {
		return fault.Validation("graph id cannot be empty")
	}
	d := g.ToDict()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fault.Internal("begin graph save: %v", err).WithCause(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE graph_id = ?`, graphID); err != nil {
		return fault.Internal("clear graph nodes: %v", err).WithCause(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE graph_id = ?`, graphID); err != nil {
		return fault.Internal("clear graph edges: %v", err).WithCause(err)
	}

	for _, n := range d.Nodes {
		props, err := marshalProps(n.Props)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (graph_id, id, type, name, props_json, source, source_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			graphID, n.ID, string(n.Type), n.Name, props,
			n.SourceInfo.Source, n.SourceInfo.Timestamp)
		if err != nil {
			return fault.Internal("save node %s: %v", n.ID, err).WithCause(err)
		}
	}
	for _, e := range d.Edges {
		props, err := marshalProps(e.Props)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO graph_edges (graph_id, type, from_id, to_id, props_json, source, source_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			graphID, string(e.Type), e.From, e.To, props,
			e.SourceInfo.Source, e.SourceInfo.Timestamp)
		if err != nil {
			return fault.Internal("save edge %s: %v", e.ID(), err).WithCause(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fault.Internal("commit graph save: %v", err).WithCause(err)
	}
	return nil
}

// Load materializes the stored graph. A graph id that was never saved
// yields an empty graph.
func (s *SQLStore) Load(ctx context.Context, graphID string) (*Graph, error) {
	if graphID == "" {
		return nil, fault.Validation("graph id cannot be empty")
	}
	g := New()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, props_json, source, source_ts
		FROM graph_nodes WHERE graph_id = ? ORDER BY id`, graphID)
	if err != nil {
		return nil, fault.Internal("load graph nodes: %v", err).WithCause(err)
	}
	defer rows.Close()
	for rows.Next() {
		var n Node
		var nodeType, propsJSON string
		var ts time.Time
		if err := rows.Scan(&n.ID, &nodeType, &n.Name, &propsJSON, &n.SourceInfo.Source, &ts); err != nil {
			return nil, fault.Internal("scan graph node: %v", err).WithCause(err)
		}
		n.Type = NodeType(nodeType)
		n.SourceInfo.Timestamp = ts
		if n.Props, err = unmarshalProps(propsJSON); err != nil {
			return nil, err
		}
		if _, err := g.UpsertNode(n); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Internal("iterate graph nodes: %v", err).WithCause(err)
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT type, from_id, to_id, props_json, source, source_ts
		FROM graph_edges WHERE graph_id = ? ORDER BY type, from_id, to_id`, graphID)
	if err != nil {
		return nil, fault.Internal("load graph edges: %v", err).WithCause(err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var e Edge
		var edgeType, propsJSON string
		var ts time.Time
		if err := edgeRows.Scan(&edgeType, &e.From, &e.To, &propsJSON, &e.SourceInfo.Source, &ts); err != nil {
			return nil, fault.Internal("scan graph edge: %v", err).WithCause(err)
		}
		e.Type = EdgeType(edgeType)
		e.SourceInfo.Timestamp = ts
		if e.Props, err = unmarshalProps(propsJSON); err != nil {
			return nil, err
		}
		if _, err := g.UpsertEdge(e); err != nil {
			return nil, err
		}
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fault.Internal("iterate graph edges: %v", err).WithCause(err)
	}

	return g, nil
}

func marshalProps(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return "", fault.Internal("marshal props: %v", err).WithCause(err)
	}
	return string(raw), nil
}

func unmarshalProps(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fault.Internal("unmarshal props: %v", err).WithCause(err)
	}
	return props, nil
}

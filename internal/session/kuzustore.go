//go:build cgo

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements Store on an embedded KuzuDB graph. Each session is a
// Session node linked to its Turn nodes by HAS_TURN edges. It requires CGO
// because the go-kuzu driver wraps KuzuDB's C library.
type KuzuStore struct {
	// mu serializes statements so create-if-absent and turn numbering are
	// atomic.
	mu   sync.Mutex
	db   *kuzu.Database
	conn *kuzu.Connection
	now  func() time.Time
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore persisted at dbPath. KuzuDB creates
// the leaf directory itself; missing parents are created here.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	db, err := kuzu.OpenDatabase(path, kuzu.DefaultSystemConfig())
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database %s: %w", path, err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	s := &KuzuStore{db: db, conn: conn, now: time.Now}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ddlStatements must list node tables before the rel table joining them.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Session(
		id STRING,
		app_name STRING,
		user_id STRING,
		session_id STRING,
		state STRING,
		last_update INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Turn(
		id STRING,
		seq INT64,
		content STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_TURN(FROM Session TO Turn)`,
}

func (s *KuzuStore) initSchema() error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

func (s *KuzuStore) Get(_ context.Context, key Key) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSession(key)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(
		`MATCH (s:Session {id: $id})-[:HAS_TURN]->(t:Turn)
		 RETURN t.seq, t.content ORDER BY t.seq`,
		map[string]any{"id": key.String()},
	)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		var turn Content
		if err := json.Unmarshal([]byte(toString(r[1])), &turn); err != nil {
			return nil, fmt.Errorf("kuzu: decode turn of %s: %w", key, err)
		}
		sess.History = append(sess.History, turn)
	}
	return sess, nil
}

func (s *KuzuStore) Create(_ context.Context, key Key, state map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSession(key); err == nil {
		return nil, fmt.Errorf("session %s: %w", key, ErrExists)
	}

	if state == nil {
		state = map[string]any{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("kuzu: encode state: %w", err)
	}
	now := s.now().UTC()

	err = s.exec(
		`CREATE (s:Session {
			id: $id,
			app_name: $app,
			user_id: $user,
			session_id: $sid,
			state: $state,
			last_update: $ts
		})`,
		map[string]any{
			"id":    key.String(),
			"app":   key.AppName,
			"user":  key.UserID,
			"sid":   key.SessionID,
			"state": string(stateJSON),
			"ts":    now.UnixNano(),
		},
	)
	if err != nil {
		return nil, err
	}
	return &Session{Key: key, State: cloneJSON(state), LastUpdate: now}, nil
}

func (s *KuzuStore) Append(_ context.Context, key Key, turns ...Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSession(key); err != nil {
		return err
	}

	rows, err := s.query(
		"MATCH (s:Session {id: $id})-[:HAS_TURN]->(t:Turn) RETURN count(t)",
		map[string]any{"id": key.String()},
	)
	if err != nil {
		return err
	}
	seq := 0
	if len(rows) > 0 {
		seq = toInt(rows[0][0])
	}

	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("kuzu: encode turn: %w", err)
		}
		err = s.exec(
			`MATCH (s:Session {id: $id})
			 CREATE (s)-[:HAS_TURN]->(:Turn {id: $tid, seq: $seq, content: $content})`,
			map[string]any{
				"id":      key.String(),
				"tid":     fmt.Sprintf("%s#%d", key, seq),
				"seq":     int64(seq),
				"content": string(data),
			},
		)
		if err != nil {
			return err
		}
		seq++
	}

	return s.exec(
		"MATCH (s:Session {id: $id}) SET s.last_update = $ts",
		map[string]any{"id": key.String(), "ts": s.now().UTC().UnixNano()},
	)
}

func (s *KuzuStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSession(key); err != nil {
		return err
	}
	params := map[string]any{"id": key.String()}
	if err := s.exec("MATCH (s:Session {id: $id})-[:HAS_TURN]->(t:Turn) DETACH DELETE t", params); err != nil {
		return err
	}
	return s.exec("MATCH (s:Session {id: $id}) DELETE s", params)
}

func (s *KuzuStore) List(_ context.Context, appName, userID string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.query(
		`MATCH (s:Session) WHERE s.app_name = $app AND s.user_id = $user
		 RETURN s.app_name, s.user_id, s.session_id, s.state, s.last_update
		 ORDER BY s.session_id`,
		map[string]any{"app": appName, "user": userID},
	)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		sess, err := rowToSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

// getSession loads the Session node for key without history. The caller
// holds s.mu.
func (s *KuzuStore) getSession(key Key) (*Session, error) {
	rows, err := s.query(
		`MATCH (s:Session {id: $id})
		 RETURN s.app_name, s.user_id, s.session_id, s.state, s.last_update`,
		map[string]any{"id": key.String()},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("session %s: %w", key, ErrNotFound)
	}
	return rowToSession(rows[0])
}

// rowToSession converts a 5-column row into a Session.
// Column order: app, user, session, state, last_update.
func rowToSession(r []any) (*Session, error) {
	sess := &Session{
		Key: Key{
			AppName:   toString(r[0]),
			UserID:    toString(r[1]),
			SessionID: toString(r[2]),
		},
		LastUpdate: time.Unix(0, toInt64(r[4])).UTC(),
	}
	if err := json.Unmarshal([]byte(toString(r[3])), &sess.State); err != nil {
		return nil, fmt.Errorf("kuzu: decode state of %s: %w", sess.Key, err)
	}
	return sess, nil
}

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows
// in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// KuzuDB returns typed Go values; these coerce any to the concrete type.

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	return int(toInt64(v))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Copyright 2026 The rtmcast Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alwitt/rtmcast/common"
	"github.com/alwitt/rtmcast/courseware"
	"github.com/apex/log"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// ChangeLogEntry one recorded courseware change
type ChangeLogEntry struct {
	// ID unique entry ID
	ID string `json:"id"`
	// Seq position of the entry within the change log
	Seq int64 `json:"seq"`
	// ChangeLogID the root activity whose change log holds the entry. Differs from
	// RootElementID for the old root's record of a move between roots.
	ChangeLogID string `json:"changeLogId"`
	courseware.ChangeEvent
	// CreatedAt when the entry was recorded
	CreatedAt time.Time `json:"createdAt"`
}

// eventPayload stores a ChangeEvent as a JSON column
type eventPayload courseware.ChangeEvent

// Scan implements the sql.Scanner interface
func (p *eventPayload) Scan(src interface{}) error {
	switch raw := src.(type) {
	case []byte:
		return json.Unmarshal(raw, p)
	case string:
		return json.Unmarshal([]byte(raw), p)
	}
	return fmt.Errorf("change event payload is not []byte or string")
}

// Value implements the sql/driver.Valuer interface
func (p eventPayload) Value() (driver.Value, error) {
	raw, err := json.Marshal(&p)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// ChangeLogStore append only log of courseware changes keyed by root element
type ChangeLogStore interface {
	// Append record a change event in the change log of its root element
	Append(ctxt context.Context, event courseware.ChangeEvent) (ChangeLogEntry, error)
	// AppendTo record a change event in the change log of a given root element
	AppendTo(
		ctxt context.Context, changeLogID string, event courseware.ChangeEvent,
	) (ChangeLogEntry, error)
	// List fetch up to limit entries of a root element, newest first. If beforeSeq
	// is positive, only entries older than it are returned.
	List(
		ctxt context.Context, rootElementID string, beforeSeq int64, limit int,
	) ([]ChangeLogEntry, error)
	// Close close the store
	Close() error
}

// sqliteChangeLogImpl implements ChangeLogStore on SQLite
type sqliteChangeLogImpl struct {
	common.Component
	db  *sql.DB
	now func() time.Time
}

const changeLogSchema = `
CREATE TABLE IF NOT EXISTS changelog (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  entry_id TEXT NOT NULL UNIQUE,
  root_element_id TEXT NOT NULL,
  element_id TEXT NOT NULL,
  element_type TEXT NOT NULL,
  action TEXT NOT NULL,
  account_id TEXT NOT NULL DEFAULT '',
  payload_json TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_changelog_root_seq ON changelog(root_element_id, seq);`

// GetSQLiteChangeLog define a new SQLite backed ChangeLogStore
func GetSQLiteChangeLog(ctxt context.Context, dbPath string) (ChangeLogStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "changelog", "instance": dbPath,
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open change log database")
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctxt, changeLogSchema); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to prepare change log schema")
		_ = db.Close()
		return nil, err
	}
	log.WithFields(logTags).Info("Change log database ready")
	return &sqliteChangeLogImpl{
		Component: common.Component{LogTags: logTags},
		db:        db,
		now:       time.Now,
	}, nil
}

// Append record a change event in the change log of its root element
func (s *sqliteChangeLogImpl) Append(
	ctxt context.Context, event courseware.ChangeEvent,
) (ChangeLogEntry, error) {
	return s.AppendTo(ctxt, event.RootElementID, event)
}

// AppendTo record a change event in the change log of a given root element
func (s *sqliteChangeLogImpl) AppendTo(
	ctxt context.Context, changeLogID string, event courseware.ChangeEvent,
) (ChangeLogEntry, error) {
	if changeLogID == "" {
		return ChangeLogEntry{}, common.NewValidationError(
			"change event for %s has no root element", event.ElementID,
		)
	}
	entry := ChangeLogEntry{
		ID:          uuid.NewString(),
		ChangeLogID: changeLogID,
		ChangeEvent: event,
		CreatedAt:   s.now().UTC(),
	}
	result, err := s.db.ExecContext(
		ctxt,
		`INSERT INTO changelog(
  entry_id, root_element_id, element_id, element_type, action, account_id, payload_json, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		changeLogID,
		event.ElementID,
		string(event.ElementType),
		string(event.Action),
		event.AccountID,
		eventPayload(event),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to record %s of %s", event.RTMEvent, event.ElementID,
		)
		return ChangeLogEntry{}, err
	}
	if entry.Seq, err = result.LastInsertId(); err != nil {
		return ChangeLogEntry{}, err
	}
	return entry, nil
}

// List fetch up to limit entries of a root element, newest first
func (s *sqliteChangeLogImpl) List(
	ctxt context.Context, rootElementID string, beforeSeq int64, limit int,
) ([]ChangeLogEntry, error) {
	if limit < 1 {
		return nil, common.NewValidationError("limit must be positive, got %d", limit)
	}
	query := `SELECT seq, entry_id, payload_json, created_at FROM changelog
WHERE root_element_id = ?`
	args := []interface{}{rootElementID}
	if beforeSeq > 0 {
		query += " AND seq < ?"
		args = append(args, beforeSeq)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctxt, query, args...)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to query change log of %s", rootElementID,
		)
		return nil, err
	}
	defer rows.Close()

	result := []ChangeLogEntry{}
	for rows.Next() {
		var entry ChangeLogEntry
		var payload eventPayload
		var createdAt string
		if err := rows.Scan(&entry.Seq, &entry.ID, &payload, &createdAt); err != nil {
			return nil, err
		}
		entry.ChangeLogID = rootElementID
		entry.ChangeEvent = courseware.ChangeEvent(payload)
		entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// Close close the store
func (s *sqliteChangeLogImpl) Close() error {
	return s.db.Close()
}

package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a memory record.
type Kind string

const (
	KindObservation Kind = "observation"
	KindReflection  Kind = "reflection"
	KindPlan        Kind = "plan"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindObservation, KindReflection, KindPlan:
		return true
	}
	return false
}

// Record is one entry in an agent's memory stream.
// Records are append-only; only LastAccessedAt changes after insertion.
type Record struct {
	ID             string            `json:"id"`
	Content        string            `json:"content"`
	CreatedAt      time.Time         `json:"created_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
	Importance     int               `json:"importance"`
	Kind           Kind              `json:"kind"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Candidate is a record returned by a similarity search together with its
// cosine distance to the query, in [0, 2].
type Candidate struct {
	Record   Record
	Distance float64
}

// Flat metadata keys used by stores that only keep string maps.
const (
	fieldCreatedAt      = "created_at"
	FieldLastAccessedAt = "last_accessed_at"
	fieldImportance     = "importance"
	fieldKind           = "kind"
	extraPrefix         = "meta."
)

// Fields flattens the record's attributes (everything except ID and Content)
// into a string map.
func (r Record) Fields() map[string]string {
	m := make(map[string]string, 4+len(r.Metadata))
	m[fieldCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	m[FieldLastAccessedAt] = r.LastAccessedAt.UTC().Format(time.RFC3339Nano)
	m[fieldImportance] = strconv.Itoa(r.Importance)
	m[fieldKind] = string(r.Kind)
	for k, v := range r.Metadata {
		m[extraPrefix+k] = v
	}
	return m
}

// RecordFromFields rebuilds a record from the map produced by Fields.
func RecordFromFields(id, content string, fields map[string]string) (Record, error) {
	rec := Record{ID: id, Content: content, Kind: Kind(fields[fieldKind])}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return Record{}, fmt.Errorf("memory %s: created_at: %w", id, err)
	}
	if rec.LastAccessedAt, err = time.Parse(time.RFC3339Nano, fields[FieldLastAccessedAt]); err != nil {
		return Record{}, fmt.Errorf("memory %s: last_accessed_at: %w", id, err)
	}
	if rec.Importance, err = strconv.Atoi(fields[fieldImportance]); err != nil {
		return Record{}, fmt.Errorf("memory %s: importance: %w", id, err)
	}
	for k, v := range fields {
		if name, ok := strings.CutPrefix(k, extraPrefix); ok {
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]string)
			}
			rec.Metadata[name] = v
		}
	}
	return rec, nil
}

// Touched returns a copy of r with LastAccessedAt advanced to at.
// The access time never moves backwards.
func (r Record) Touched(at time.Time) Record {
	if at.After(r.LastAccessedAt) {
		r.LastAccessedAt = at
	}
	return r
}

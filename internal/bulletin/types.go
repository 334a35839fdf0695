package bulletin

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one service bulletin extracted from raw page text.
type Record struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Buses   []string `json:"buses"`
}

// CachedRecord is a Record with the fingerprint metadata attached.
// IsNew is computed per request and is always stored as false.
type CachedRecord struct {
	Record
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	IsNew     bool   `json:"isNew"`
}

// Result is the payload returned for one scrape run.
type Result struct {
	TargetURL string         `json:"targetUrl"`
	Data      []CachedRecord `json:"data"`
}

// canonicalRecord fixes the key order used for fingerprinting.
type canonicalRecord struct {
	Buses   []string `json:"buses"`
	Content string   `json:"content"`
	Title   string   `json:"title"`
}

// Canonical returns the canonical JSON encoding of the record: keys in
// lexical order and a nil bus list rendered as an empty array.
func (r Record) Canonical() ([]byte, error) {
	buses := r.Buses
	if buses == nil {
		buses = []string{}
	}
	data, err := json.Marshal(canonicalRecord{Buses: buses, Content: r.Content, Title: r.Title})
	if err != nil {
		return nil, fmt.Errorf("marshal canonical record: %w", err)
	}
	return data, nil
}

// Stamp attaches fingerprint metadata to the record.
func (r Record) Stamp(hash string, seenAt time.Time, isNew bool) CachedRecord {
	rec := r
	if rec.Buses == nil {
		rec.Buses = []string{}
	}
	return CachedRecord{
		Record:    rec,
		Hash:      hash,
		Timestamp: seenAt.UnixMilli(),
		IsNew:     isNew,
	}
}

// Seen returns a copy flagged as previously seen.
func (c CachedRecord) Seen() CachedRecord {
	c.IsNew = false
	if c.Buses == nil {
		c.Buses = []string{}
	}
	return c
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package audit maintains the tamper-evident audit trail.
//
// Records form a hash chain: each record's hash covers its own fields
// plus the hash of its predecessor, so altering any stored record breaks
// the chain at that point. The engine owns the tail hash and the id
// allocator; appends happen under its lock, on the single-writer path.
//
// Retention purge is the one sanctioned deletion. It removes expired
// records except the compliance-preserved families and closes with a
// single SYSTEM:PURGE record that chains onto the pre-purge tail.
package audit

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var logger = logging.GetLogger("acs.audit")

const suspiciousDenialFloor = 3

// Engine is the audit trail service.
type Engine struct {
	// extendMu serializes trail extension end to end, including the
	// persist step, so concurrent extenders cannot interleave ids or
	// chain onto a record that never commits.
	extendMu sync.Mutex

	mu      sync.Mutex
	records []model.AuditRecord
	nextID  int64
	tenant  string
	streams []Stream
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStream attaches a delivery stream; every appended record is
// emitted to it.
func WithStream(s Stream) Option {
	return func(e *Engine) { e.streams = append(e.streams, s) }
}

// NewEngine creates an empty audit engine for the given tenant.
func NewEngine(tenant string, opts ...Option) *Engine {
	e := &Engine{tenant: tenant, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extend seals the next record against the current tail, runs persist
// on it, and appends it to the trail only when persist succeeds. The
// extension lock is held across persist so the sealed id and prevHash
// stay valid however long durability takes; a failed persist leaves the
// trail untouched.
func (e *Engine) Extend(changeType, entityType string, entityID int64, changedBy, details string, persist func(rec model.AuditRecord) error) (model.AuditRecord, error) {
	e.extendMu.Lock()
	defer e.extendMu.Unlock()

	e.mu.Lock()
	rec := model.AuditRecord{
		ID:         e.nextID + 1,
		Timestamp:  e.now(),
		ChangeType: changeType,
		EntityType: entityType,
		EntityID:   entityID,
		ChangedBy:  changedBy,
		Details:    details,
		PrevHash:   e.tailHash(),
		Tenant:     e.tenant,
	}
	rec.Seal()
	e.mu.Unlock()

	if persist != nil {
		if err := persist(rec); err != nil {
			return rec, err
		}
	}

	e.mu.Lock()
	e.nextID = rec.ID
	e.records = append(e.records, rec)
	streams := e.streams
	e.mu.Unlock()

	for _, s := range streams {
		if err := s.Send(rec); err != nil {
			logger.SysWarnf("audit stream send failed: %v", err)
		}
	}
	return rec, nil
}

// Log appends a record to the trail, sealing it against the current
// tail. Durability is the caller's concern; use Extend to couple the
// append to a persistence step.
func (e *Engine) Log(changeType, entityType string, entityID int64, changedBy, details string) model.AuditRecord {
	rec, _ := e.Extend(changeType, entityType, entityID, changedBy, details, nil)
	return rec
}

// tailHash returns the hash of the newest record. Caller must hold the
// lock.
func (e *Engine) tailHash() string {
	if len(e.records) == 0 {
		return ""
	}
	return e.records[len(e.records)-1].Hash
}

// Restore loads previously persisted records, replacing the current
// trail. The id allocator resumes past the highest restored id.
func (e *Engine) Restore(recs []model.AuditRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = append([]model.AuditRecord{}, recs...)
	sort.Slice(e.records, func(i, j int) bool { return e.records[i].ID < e.records[j].ID })
	e.nextID = 0
	for _, r := range e.records {
		if r.ID > e.nextID {
			e.nextID = r.ID
		}
	}
}

// Records returns a copy of the trail in id order.
func (e *Engine) Records() []model.AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.AuditRecord{}, e.records...)
}

// Filter selects audit records. Zero-valued fields match everything;
// populated fields are AND-ed together.
type Filter struct {
	From             time.Time
	To               time.Time
	EntityID         int64
	EntityType       string
	ChangedBy        string
	ChangeTypePrefix string
	Limit            int
	Offset           int
}

func (f Filter) matches(r model.AuditRecord) bool {
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.EntityID != 0 && r.EntityID != f.EntityID {
		return false
	}
	if f.EntityType != "" && r.EntityType != f.EntityType {
		return false
	}
	if f.ChangedBy != "" && r.ChangedBy != f.ChangedBy {
		return false
	}
	if f.ChangeTypePrefix != "" && !strings.HasPrefix(r.ChangeType, f.ChangeTypePrefix) {
		return false
	}
	return true
}

// Query returns the matching records, newest first, with ties broken by
// descending id so pagination is stable.
func (e *Engine) Query(f Filter) []model.AuditRecord {
	e.mu.Lock()
	var out []model.AuditRecord
	for _, r := range e.records {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Issue kinds reported by Validate.
const (
	IssueHashChainBroken  = "HashChainBroken"
	IssueMissingID        = "MissingId"
	IssueMalformedDetails = "MalformedDetails"
	IssueDuplicateHash    = "DuplicateHash"
)

// Issue is one integrity violation found in the trail.
type Issue struct {
	Kind    string `json:"kind"`
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// Validate walks the trail in id order and reports every integrity
// violation. Id gaps below the latest SYSTEM:PURGE record are the
// sanctioned deletions of a retention purge; any gap above it is
// MissingId.
func (e *Engine) Validate() []Issue {
	e.mu.Lock()
	recs := append([]model.AuditRecord{}, e.records...)
	e.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	var issues []Issue
	var purgeID int64
	for _, r := range recs {
		if r.ChangeType == model.ChangeSystemPurge && r.ID > purgeID {
			purgeID = r.ID
		}
	}

	seen := map[string]int64{}
	for i, r := range recs {
		if !r.Verify() {
			issues = append(issues, Issue{
				Kind: IssueHashChainBroken, ID: r.ID,
				Message: fmt.Sprintf("record %d hash does not match contents", r.ID),
			})
		}
		if prev, ok := seen[r.Hash]; ok {
			issues = append(issues, Issue{
				Kind: IssueDuplicateHash, ID: r.ID,
				Message: fmt.Sprintf("record %d repeats the hash of record %d", r.ID, prev),
			})
		} else {
			seen[r.Hash] = r.ID
		}
		if r.Details != "" && !json.Valid([]byte(r.Details)) {
			issues = append(issues, Issue{
				Kind: IssueMalformedDetails, ID: r.ID,
				Message: fmt.Sprintf("record %d details are not valid JSON", r.ID),
			})
		}
		if i == 0 {
			continue
		}
		prev := recs[i-1]
		if r.ID == prev.ID+1 {
			if r.PrevHash != prev.Hash {
				issues = append(issues, Issue{
					Kind: IssueHashChainBroken, ID: r.ID,
					Message: fmt.Sprintf("record %d does not chain onto record %d", r.ID, prev.ID),
				})
			}
		} else if r.ID > purgeID {
			issues = append(issues, Issue{
				Kind: IssueMissingID, ID: prev.ID + 1,
				Message: fmt.Sprintf("records %d..%d are missing", prev.ID+1, r.ID-1),
			})
		}
	}
	return issues
}

// Purge deletes records older than the retention period, preserving any
// whose change type starts with one of the preserve prefixes. The purge
// closes with one SYSTEM:PURGE record whose prevHash is the pre-purge
// tail, anchoring the chain that follows.
func (e *Engine) Purge(retention time.Duration, preserve []string) (int, model.AuditRecord) {
	e.extendMu.Lock()
	defer e.extendMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-retention)
	tail := e.tailHash()

	preserved := func(changeType string) bool {
		for _, p := range preserve {
			if strings.HasPrefix(changeType, p) {
				return true
			}
		}
		return false
	}

	var survivors []model.AuditRecord
	deleted := 0
	for _, r := range e.records {
		if r.Timestamp.Before(cutoff) && !preserved(r.ChangeType) {
			deleted++
			continue
		}
		survivors = append(survivors, r)
	}

	e.records = survivors
	e.nextID++
	rec := model.AuditRecord{
		ID:         e.nextID,
		Timestamp:  e.now(),
		ChangeType: model.ChangeSystemPurge,
		EntityType: "AuditLog",
		ChangedBy:  "system",
		Details:    fmt.Sprintf(`{"deleted":%d}`, deleted),
		PrevHash:   tail,
		Tenant:     e.tenant,
	}
	rec.Seal()
	e.records = append(e.records, rec)

	logger.SysInfof("retention purge removed %d records, %d retained", deleted, len(survivors))
	return deleted, rec
}

// HasSuspiciousActivity reports whether a user accumulated three or more
// access denials inside the trailing window.
func (e *Engine) HasSuspiciousActivity(user string, window time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	since := e.now().Add(-window)
	denials := 0
	for _, r := range e.records {
		if r.ChangeType == model.ChangeAccessDenied && r.ChangedBy == user && !r.Timestamp.Before(since) {
			denials++
			if denials >= suspiciousDenialFloor {
				return true
			}
		}
	}
	return false
}

// Stats summarizes the trail for reporting.
type Stats struct {
	Tenant         string `json:"tenant"`
	Total          int    `json:"total"`
	UniqueUsers    int    `json:"uniqueUsers"`
	UniqueEntities int    `json:"uniqueEntities"`
	SecurityEvents int    `json:"securityEvents"`
	DataEvents     int    `json:"dataEvents"`
}

// Statistics computes trail totals.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	users := map[string]struct{}{}
	entities := map[int64]struct{}{}
	stats := Stats{Tenant: e.tenant, Total: len(e.records)}
	for _, r := range e.records {
		users[r.ChangedBy] = struct{}{}
		if r.EntityID != 0 {
			entities[r.EntityID] = struct{}{}
		}
		if strings.HasPrefix(r.ChangeType, model.SecurityPrefix) {
			stats.SecurityEvents++
		}
		if strings.HasPrefix(r.ChangeType, "DATA_") {
			stats.DataEvents++
		}
	}
	stats.UniqueUsers = len(users)
	stats.UniqueEntities = len(entities)
	return stats
}

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"Id", "EntityType", "EntityId", "ChangeType", "ChangedBy", "ChangeDate", "ChangeDetails", "Hash", "PrevHash"}

// Export writes the filtered records to w in the requested format.
func (e *Engine) Export(w io.Writer, format string, f Filter) error {
	recs := e.Query(f)

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range recs {
			row := []string{
				strconv.FormatInt(r.ID, 10),
				r.EntityType,
				strconv.FormatInt(r.EntityID, 10),
				r.ChangeType,
				r.ChangedBy,
				r.Timestamp.UTC().Format(time.RFC3339Nano),
				r.Details,
				r.Hash,
				r.PrevHash,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return common.Errorf(common.KindInvalidArgument, "unsupported export format %q", format)
	}
}

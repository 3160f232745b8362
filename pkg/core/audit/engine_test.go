//
//  Copyright © Manetu Inc. All rights reserved.
//

package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// clockAt returns an engine clock backed by the given mutable instant.
func clockAt(t *time.Time) func() time.Time {
	return func() time.Time { return *t }
}

func TestLogChainsRecords(t *testing.T) {
	e := NewEngine("default")

	r1 := e.Log(model.ChangeCreate, "User", 1, "admin", `{"name":"alice"}`)
	r2 := e.Log(model.ChangeUpdate, "User", 1, "admin", `{"name":"alice.smith"}`)
	r3 := e.Log(model.ChangeDelete, "User", 1, "admin", "")

	assert.Equal(t, int64(1), r1.ID)
	assert.Empty(t, r1.PrevHash)
	assert.Equal(t, r1.Hash, r2.PrevHash)
	assert.Equal(t, r2.Hash, r3.PrevHash)
	assert.Equal(t, "default", r1.Tenant)

	assert.Empty(t, e.Validate())
}

func TestValidateDetectsTampering(t *testing.T) {
	e := NewEngine("default")
	e.Log(model.ChangeCreate, "User", 1, "admin", `{"v":1}`)
	e.Log(model.ChangeUpdate, "User", 1, "admin", `{"v":2}`)
	e.Log(model.ChangeUpdate, "User", 1, "admin", `{"v":3}`)

	recs := e.Records()
	recs[1].Details = `{"v":999}` // tamper without resealing
	e.Restore(recs)

	issues := e.Validate()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueHashChainBroken, issues[0].Kind)
	assert.Equal(t, int64(2), issues[0].ID)
}

func TestValidateDetectsBrokenLink(t *testing.T) {
	e := NewEngine("default")
	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	e.Log(model.ChangeUpdate, "User", 1, "admin", "")

	recs := e.Records()
	recs[1].PrevHash = "deadbeef"
	recs[1].Seal() // self-consistent but detached from its predecessor
	e.Restore(recs)

	issues := e.Validate()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueHashChainBroken, issues[0].Kind)
	assert.Equal(t, int64(2), issues[0].ID)
}

func TestValidateDetectsGapsAndDuplicatesAndMalformedDetails(t *testing.T) {
	e := NewEngine("default")

	r1 := model.AuditRecord{ID: 1, Timestamp: epoch, ChangeType: model.ChangeCreate, EntityType: "User", EntityID: 1, ChangedBy: "admin"}
	r1.Seal()
	r3 := model.AuditRecord{ID: 3, Timestamp: epoch.Add(time.Minute), ChangeType: model.ChangeUpdate, EntityType: "User", EntityID: 1, ChangedBy: "admin", PrevHash: r1.Hash, Details: "not-json"}
	r3.Seal()
	r4 := r1 // duplicate hash
	r4.ID = 4
	e.Restore([]model.AuditRecord{r1, r3, r4})

	issues := e.Validate()
	kinds := map[string]bool{}
	for _, issue := range issues {
		kinds[issue.Kind] = true
	}
	assert.True(t, kinds[IssueMissingID])
	assert.True(t, kinds[IssueMalformedDetails])
	assert.True(t, kinds[IssueDuplicateHash])
}

func TestPurgePreservesComplianceEvents(t *testing.T) {
	now := epoch
	e := NewEngine("default", WithClock(clockAt(&now)))

	now = epoch.AddDate(0, 0, -40)
	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	e.Log("SECURITY:LOGIN_FAILED", "User", 2, "mallory", "")
	now = epoch.AddDate(0, 0, -10)
	e.Log(model.ChangeUpdate, "User", 1, "admin", "")
	now = epoch

	deleted, purgeRec := e.Purge(30*24*time.Hour, []string{model.SecurityPrefix})

	assert.Equal(t, 1, deleted)
	assert.Equal(t, model.ChangeSystemPurge, purgeRec.ChangeType)
	assert.JSONEq(t, `{"deleted":1}`, purgeRec.Details)

	recs := e.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "SECURITY:LOGIN_FAILED", recs[0].ChangeType)
	assert.Equal(t, model.ChangeUpdate, recs[1].ChangeType)
	assert.Equal(t, model.ChangeSystemPurge, recs[2].ChangeType)

	// the purge record anchors onto the pre-purge tail
	assert.Equal(t, recs[1].Hash, purgeRec.PrevHash)

	// id gaps left by the purge are sanctioned
	assert.Empty(t, e.Validate())

	// appends resume on the new chain
	next := e.Log(model.ChangeCreate, "User", 3, "admin", "")
	assert.Equal(t, purgeRec.Hash, next.PrevHash)
}

func TestExtendAppendsOnlyWhenPersistSucceeds(t *testing.T) {
	e := NewEngine("default")
	e.Log(model.ChangeCreate, "User", 1, "admin", "")

	var persisted model.AuditRecord
	rec, err := e.Extend(model.ChangeUpdate, "User", 1, "admin", "", func(r model.AuditRecord) error {
		persisted = r
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, rec, persisted)
	assert.Equal(t, int64(2), rec.ID)
	require.Len(t, e.Records(), 2)

	// a failed persist leaves the trail untouched and the id unspent
	_, err = e.Extend(model.ChangeDelete, "User", 1, "admin", "", func(model.AuditRecord) error {
		return assert.AnError
	})
	require.Error(t, err)
	require.Len(t, e.Records(), 2)

	next := e.Log(model.ChangeDelete, "User", 1, "admin", "")
	assert.Equal(t, int64(3), next.ID)
	assert.Equal(t, rec.Hash, next.PrevHash)
	assert.Empty(t, e.Validate())
}

func TestValidateFlagsGapsAfterPurge(t *testing.T) {
	now := epoch
	e := NewEngine("default", WithClock(clockAt(&now)))

	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	e.Log(model.ChangeUpdate, "User", 1, "admin", "")
	now = epoch.AddDate(0, 0, 2)
	e.Purge(24*time.Hour, nil) // removes ids 1 and 2, purge record is id 3
	e.Log(model.ChangeCreate, "User", 2, "admin", "")
	e.Log(model.ChangeCreate, "User", 3, "admin", "")

	recs := e.Records()
	require.Len(t, recs, 3)
	require.Empty(t, e.Validate())

	// deleting a record minted after the purge is tampering, not retention
	e.Restore([]model.AuditRecord{recs[0], recs[2]})

	issues := e.Validate()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueMissingID, issues[0].Kind)
	assert.Equal(t, int64(4), issues[0].ID)
}

func TestHasSuspiciousActivity(t *testing.T) {
	now := epoch
	e := NewEngine("default", WithClock(clockAt(&now)))

	for i := 0; i < 3; i++ {
		e.Log(model.ChangeAccessDenied, "User", 1, "u1", "")
	}
	e.Log(model.ChangeAccessGranted, "User", 2, "u2", "")
	e.Log(model.ChangeAccessGranted, "User", 2, "u2", "")

	assert.True(t, e.HasSuspiciousActivity("u1", 30*time.Minute))
	assert.False(t, e.HasSuspiciousActivity("u2", 30*time.Minute))

	// denials outside the window no longer count
	now = epoch.Add(time.Hour)
	assert.False(t, e.HasSuspiciousActivity("u1", 30*time.Minute))
}

func TestQueryFiltersAreANDed(t *testing.T) {
	now := epoch
	e := NewEngine("default", WithClock(clockAt(&now)))

	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	now = now.Add(time.Minute)
	e.Log("SECURITY:LOGIN_FAILED", "User", 1, "mallory", "")
	now = now.Add(time.Minute)
	e.Log("SECURITY:LOGIN_FAILED", "User", 2, "mallory", "")

	// both conditions must hold
	out := e.Query(Filter{ChangeTypePrefix: model.SecurityPrefix, EntityID: 1})
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].ID)

	// newest first
	out = e.Query(Filter{ChangedBy: "mallory"})
	require.Len(t, out, 2)
	assert.Equal(t, int64(3), out[0].ID)

	// pagination
	out = e.Query(Filter{Limit: 1, Offset: 1})
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].ID)

	// date range
	out = e.Query(Filter{From: epoch.Add(30 * time.Second), To: epoch.Add(90 * time.Second)})
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].ID)
}

func TestStatistics(t *testing.T) {
	e := NewEngine("acme")
	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	e.Log("SECURITY:LOGIN_FAILED", "User", 2, "mallory", "")
	e.Log("DATA_EXPORT", "Resource", 3, "admin", "")

	stats := e.Statistics()
	assert.Equal(t, "acme", stats.Tenant)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.UniqueUsers)
	assert.Equal(t, 3, stats.UniqueEntities)
	assert.Equal(t, 1, stats.SecurityEvents)
	assert.Equal(t, 1, stats.DataEvents)
}

func TestExportJSON(t *testing.T) {
	e := NewEngine("default")
	e.Log(model.ChangeCreate, "User", 1, "admin", `{"name":"alice"}`)

	var buf bytes.Buffer
	require.NoError(t, e.Export(&buf, FormatJSON, Filter{}))

	var recs []model.AuditRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, model.ChangeCreate, recs[0].ChangeType)
	assert.True(t, recs[0].Verify())
}

func TestExportCSV(t *testing.T) {
	e := NewEngine("default")
	e.Log(model.ChangeCreate, "User", 1, "admin", "")
	e.Log(model.ChangeUpdate, "User", 1, "admin", "")

	var buf bytes.Buffer
	require.NoError(t, e.Export(&buf, FormatCSV, Filter{}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Id", "EntityType", "EntityId", "ChangeType", "ChangedBy", "ChangeDate", "ChangeDetails", "Hash", "PrevHash"}, rows[0])
	assert.Equal(t, "2", rows[1][0]) // newest first
	assert.Equal(t, "1", rows[2][0])

	var bad bytes.Buffer
	assert.Error(t, e.Export(&bad, "xml", Filter{}))
}

//
//  Copyright © Manetu Inc. All rights reserved.
//

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/JoshuaRamirez/ACS-sub003/pkg/core"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/options"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/repository/memory"
)

type fixture struct {
	svc  core.AccessService
	echo *echo.Echo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc, err := core.NewAccessService(context.Background(),
		options.WithRepository(memory.New()),
		options.WithAuditStream(audit.NewNullFactory()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return &fixture{svc: svc, echo: newEcho(svc)}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

// command posts a command and decodes the result field into out.
func (f *fixture) command(t *testing.T, body string, out any) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/commands", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	if out == nil {
		return
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NoError(t, json.Unmarshal(resp.Result, out))
}

func TestCommandRoundTrip(t *testing.T) {
	f := newFixture(t)

	var alice model.Entity
	f.command(t, `{"submittedBy":"admin","kind":"CreateUser","payload":{"name":"alice"}}`, &alice)
	assert.Equal(t, "alice", alice.Name)
	assert.Equal(t, model.KindUser, alice.Kind)

	var users []model.User
	f.command(t, `{"submittedBy":"admin","kind":"GetUsers"}`, &users)
	assert.Len(t, users, 1)
}

func TestCommandErrorsMapToStatusCodes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/commands", `{"submittedBy":"admin","kind":"Teleport"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/commands", `{"submittedBy":"admin","kind":"GetUser","payload":{"id":99}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.command(t, `{"submittedBy":"admin","kind":"CreateGroup","payload":{"name":"eng"}}`, nil)
	var alice model.Entity
	f.command(t, `{"submittedBy":"admin","kind":"CreateUser","payload":{"name":"alice"}}`, &alice)
	f.command(t, fmt.Sprintf(`{"submittedBy":"admin","kind":"AddUserToGroup","payload":{"from":%d,"to":1}}`, alice.ID), nil)

	// duplicate membership conflicts
	rec = f.do(t, http.MethodPost, "/v1/commands",
		fmt.Sprintf(`{"submittedBy":"admin","kind":"AddUserToGroup","payload":{"from":%d,"to":1}}`, alice.ID))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	f := newFixture(t)

	var eng, alice model.Entity
	f.command(t, `{"submittedBy":"admin","kind":"CreateGroup","payload":{"name":"eng"}}`, &eng)
	f.command(t, `{"submittedBy":"admin","kind":"CreateUser","payload":{"name":"alice"}}`, &alice)
	f.command(t, fmt.Sprintf(`{"submittedBy":"admin","kind":"AddUserToGroup","payload":{"from":%d,"to":%d}}`, alice.ID, eng.ID), nil)

	var docs model.Resource
	f.command(t, `{"submittedBy":"admin","kind":"CreateResource","payload":{"uri":"/api/documents/*"}}`, &docs)
	f.command(t, fmt.Sprintf(`{"submittedBy":"admin","kind":"GrantPermission","payload":{"entityId":%d,"resourceId":%d,"verb":"GET"}}`, eng.ID, docs.ID), nil)

	rec := f.do(t, http.MethodPost, "/v1/evaluate",
		fmt.Sprintf(`{"principal":"admin","entityId":%d,"uri":"/api/documents/9","verb":"GET"}`, alice.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	var dec model.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dec))
	assert.Equal(t, model.EffectAllowed, dec.Effect)
	assert.Equal(t, eng.ID, dec.InheritedFrom)

	rec = f.do(t, http.MethodPost, "/v1/evaluate",
		fmt.Sprintf(`{"principal":"admin","entityId":%d,"uri":"/api/documents/9","verb":"TELEPORT"}`, alice.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditEndpoints(t *testing.T) {
	f := newFixture(t)

	f.command(t, `{"submittedBy":"admin","kind":"CreateUser","payload":{"name":"alice"}}`, nil)
	f.command(t, `{"submittedBy":"root","kind":"CreateGroup","payload":{"name":"eng"}}`, nil)

	rec := f.do(t, http.MethodGet, "/v1/audit?changedBy=admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []model.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "admin", recs[0].ChangedBy)

	rec = f.do(t, http.MethodGet, "/v1/audit/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Valid)

	rec = f.do(t, http.MethodGet, "/v1/audit/statistics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats audit.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)

	rec = f.do(t, http.MethodGet, "/v1/audit/export?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
	assert.Contains(t, rec.Body.String(), "ChangeType")

	rec = f.do(t, http.MethodPost, "/v1/audit/purge", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// nothing is old enough to purge
	assert.JSONEq(t, `{"deleted":0}`, rec.Body.String())
}

func TestWatchEndpoints(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/v1/watch/alice", "").Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/v1/watch/bob", "").Code)

	rec := f.do(t, http.MethodGet, "/v1/watch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["alice","bob"]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/watch/suspicious?window=5m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/watch/alice", "").Code)
	rec = f.do(t, http.MethodGet, "/v1/watch", "")
	assert.JSONEq(t, `["bob"]`, rec.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	f.command(t, `{"submittedBy":"admin","kind":"CreateUser","payload":{"name":"alice"}}`, nil)

	rec := f.do(t, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h struct {
		Tenant   string            `json:"tenant"`
		Breakers map[string]string `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "default", h.Tenant)
	assert.Equal(t, "Closed", h.Breakers["save-entity"])
}

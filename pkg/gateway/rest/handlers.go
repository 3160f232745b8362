//
//  Copyright © Manetu Inc. All rights reserved.
//

package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JoshuaRamirez/ACS-sub003/pkg/common"
	core "github.com/JoshuaRamirez/ACS-sub003/pkg/core"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/audit"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/command"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/model"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/core/options"
)

type handlers struct {
	svc core.AccessService
}

// statusFor maps error kinds onto HTTP status codes.
func statusFor(kind common.Kind) int {
	switch kind {
	case common.KindNotFound:
		return http.StatusNotFound
	case common.KindConflict, common.KindCycleDetected, common.KindDependenciesExist:
		return http.StatusConflict
	case common.KindInvalidArgument:
		return http.StatusBadRequest
	case common.KindBackpressure:
		return http.StatusTooManyRequests
	case common.KindTimeout:
		return http.StatusGatewayTimeout
	case common.KindPersistenceFailure, common.KindCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind    common.Kind `json:"kind,omitempty"`
	Message string      `json:"message"`
}

func fail(c echo.Context, err error) error {
	kind := common.KindOf(err)
	return c.JSON(statusFor(kind), errorBody{Kind: kind, Message: err.Error()})
}

// commandRequest is the wire form of a command: the payload stays raw
// until the kind selects its type.
type commandRequest struct {
	RequestID   string          `json:"requestId,omitempty"`
	SubmittedBy string          `json:"submittedBy"`
	Kind        command.Kind    `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Deadline    time.Time       `json:"deadline,omitempty"`
}

type commandResponse struct {
	RequestID string `json:"requestId,omitempty"`
	Result    any    `json:"result,omitempty"`
}

func (h *handlers) command(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, common.Errorf(common.KindInvalidArgument, "malformed request: %v", err))
	}

	payload, err := command.PayloadFor(req.Kind, req.Payload)
	if err != nil {
		return fail(c, err)
	}

	result, err := h.svc.Execute(c.Request().Context(), command.Command{
		RequestID:   req.RequestID,
		SubmittedBy: req.SubmittedBy,
		Deadline:    req.Deadline,
		Kind:        req.Kind,
		Payload:     payload,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, commandResponse{RequestID: req.RequestID, Result: result})
}

type evaluateRequest struct {
	Principal string `json:"principal"`
	EntityID  int64  `json:"entityId"`
	URI       string `json:"uri"`
	Verb      string `json:"verb"`
	Probe     bool   `json:"probe,omitempty"`
}

func (h *handlers) evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, common.Errorf(common.KindInvalidArgument, "malformed request: %v", err))
	}
	verb, err := model.ParseVerb(req.Verb)
	if err != nil {
		return fail(c, err)
	}

	dec := h.svc.Evaluate(c.Request().Context(), req.Principal, req.EntityID, req.URI, verb,
		options.SetProbeMode(req.Probe))
	return c.JSON(http.StatusOK, dec)
}

func auditFilter(c echo.Context) (audit.Filter, error) {
	var f audit.Filter
	var err error

	intParam := func(name string) (int64, error) {
		v := c.QueryParam(name)
		if v == "" {
			return 0, nil
		}
		return strconv.ParseInt(v, 10, 64)
	}
	timeParam := func(name string) (time.Time, error) {
		v := c.QueryParam(name)
		if v == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339, v)
	}

	if f.EntityID, err = intParam("entityId"); err != nil {
		return f, common.Errorf(common.KindInvalidArgument, "entityId: %v", err)
	}
	f.EntityType = c.QueryParam("entityType")
	f.ChangedBy = c.QueryParam("changedBy")
	f.ChangeTypePrefix = c.QueryParam("changeType")
	if f.From, err = timeParam("from"); err != nil {
		return f, common.Errorf(common.KindInvalidArgument, "from: %v", err)
	}
	if f.To, err = timeParam("to"); err != nil {
		return f, common.Errorf(common.KindInvalidArgument, "to: %v", err)
	}

	limit, err := intParam("limit")
	if err != nil {
		return f, common.Errorf(common.KindInvalidArgument, "limit: %v", err)
	}
	offset, err := intParam("offset")
	if err != nil {
		return f, common.Errorf(common.KindInvalidArgument, "offset: %v", err)
	}
	f.Limit = int(limit)
	f.Offset = int(offset)
	return f, nil
}

func (h *handlers) auditQuery(c echo.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return fail(c, err)
	}
	recs := h.svc.Audit().Query(f)
	if recs == nil {
		recs = []model.AuditRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

type validateResponse struct {
	Valid  bool          `json:"valid"`
	Issues []audit.Issue `json:"issues"`
}

func (h *handlers) auditValidate(c echo.Context) error {
	issues := h.svc.Audit().Validate()
	if issues == nil {
		issues = []audit.Issue{}
	}
	return c.JSON(http.StatusOK, validateResponse{Valid: len(issues) == 0, Issues: issues})
}

func (h *handlers) auditStatistics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Audit().Statistics())
}

func (h *handlers) auditExport(c echo.Context) error {
	f, err := auditFilter(c)
	if err != nil {
		return fail(c, err)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = audit.FormatJSON
	}
	switch format {
	case audit.FormatCSV:
		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	case audit.FormatJSON:
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	c.Response().WriteHeader(http.StatusOK)

	return h.svc.Audit().Export(c.Response(), format, f)
}

func (h *handlers) auditPurge(c echo.Context) error {
	deleted, err := h.svc.PurgeAudit(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
}

func (h *handlers) watch(c echo.Context) error {
	h.svc.Watch(c.Param("principal"))
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) unwatch(c echo.Context) error {
	h.svc.Unwatch(c.Param("principal"))
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) watched(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Watched())
}

func (h *handlers) suspicious(c echo.Context) error {
	window := 15 * time.Minute
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fail(c, common.Errorf(common.KindInvalidArgument, "window: %v", err))
		}
		window = d
	}

	out := h.svc.SuspiciousWatched(window)
	if out == nil {
		out = []string{}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Health())
}

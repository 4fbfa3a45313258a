// Package router turns export HTTP requests into export flows and maps
// their errors onto status codes.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/feature-export/internal/core/config"
	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/observability"
	"github.com/mohammed-shakir/feature-export/internal/export"
)

const (
	RouteIndex   = "/"
	RouteColumns = "/export/columns"
	RouteFull    = "/export/full"
	RouteEmail   = "/export/email"
)

const maxWhereLen = 500

type Exporter interface {
	ColumnExport(ctx context.Context, columns []string, where string) (export.Artifact, error)
	FullExport(ctx context.Context) (export.Artifact, error)
	ExportAndEmail(ctx context.Context, recipient string) (export.Artifact, error)
	KnownColumns() []string
}

// Index lists the routes and the columns a column export can always select.
func Index(ex Exporter) http.HandlerFunc {
	type route struct {
		Method string `json:"method"`
		Path   string `json:"path"`
	}
	routes := []route{
		{http.MethodPost, RouteColumns},
		{http.MethodGet, RouteFull},
		{http.MethodPost, RouteEmail},
	}
	return observe(RouteIndex, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"columns": ex.KnownColumns(),
			"routes":  routes,
		})
	})
}

func HandleColumnExport(logger *slog.Logger, ex Exporter) http.HandlerFunc {
	return observe(RouteColumns, func(w http.ResponseWriter, r *http.Request) {
		columns, where, err := ParseColumnRequest(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		art, err := ex.ColumnExport(r.Context(), columns, where)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeArtifact(w, art)
	})
}

func HandleFullExport(logger *slog.Logger, ex Exporter) http.HandlerFunc {
	return observe(RouteFull, func(w http.ResponseWriter, r *http.Request) {
		art, err := ex.FullExport(r.Context())
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeArtifact(w, art)
	})
}

// HandleEmailExport sends the report and redirects back to the index.
func HandleEmailExport(logger *slog.Logger, ex Exporter) http.HandlerFunc {
	return observe(RouteEmail, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, r, logger, &exporterr.PreconditionError{Reason: "malformed form body"})
			return
		}
		art, err := ex.ExportAndEmail(r.Context(), strings.TrimSpace(r.Form.Get("to")))
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		w.Header().Set("X-Export-ID", art.ID)
		http.Redirect(w, r, RouteIndex, http.StatusSeeOther)
	})
}

// ParseColumnRequest reads selectedColumns (repeated or comma separated,
// from the form body or the query) and an optional where clause.
func ParseColumnRequest(r *http.Request) ([]string, string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, "", &exporterr.PreconditionError{Reason: "malformed form body"}
	}
	var columns []string
	for _, v := range r.Form["selectedColumns"] {
		columns = append(columns, config.SplitCSV(v)...)
	}
	if len(columns) == 0 {
		return nil, "", &exporterr.PreconditionError{Reason: "missing required parameter: selectedColumns"}
	}

	where := strings.TrimSpace(r.Form.Get("where"))
	if where != "" && !isSafeWhere(where) {
		return nil, "", &exporterr.PreconditionError{Reason: "invalid or disallowed where clause"}
	}
	return columns, where, nil
}

var safeWherePattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\-\%]+$`)

func isSafeWhere(s string) bool {
	if len(s) > maxWhereLen {
		return false
	}
	return safeWherePattern.MatchString(s)
}

func writeArtifact(w http.ResponseWriter, art export.Artifact) {
	h := w.Header()
	h.Set("Content-Type", art.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	h.Set("Content-Length", strconv.Itoa(len(art.Data)))
	h.Set("X-Export-ID", art.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError logs the full error and answers with a generic message.
// Caller mistakes keep their detail since it only echoes the request.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := exporterr.Code(err)
	status, msg := http.StatusInternalServerError, "internal error"
	switch code {
	case "bad_request":
		status, msg = http.StatusBadRequest, "bad request"
		var pe *exporterr.PreconditionError
		if errors.As(err, &pe) {
			msg = pe.Reason
		}
	case "unknown_field":
		var fe *exporterr.FieldResolutionError
		errors.As(err, &fe)
		status, msg = http.StatusBadRequest, fe.Error()
	case "upstream_failed":
		status, msg = http.StatusBadGateway, "feature server request failed"
	case "delivery_failed":
		status, msg = http.StatusBadGateway, "email delivery failed"
	case "not_configured":
		status, msg = http.StatusServiceUnavailable, "export not configured"
	}

	lvl := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		lvl = slog.LevelError
	}
	logger.Log(r.Context(), lvl, "export request failed",
		"path", r.URL.Path, "status", status, "code", code, "err", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: msg, Code: code})
}

func observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

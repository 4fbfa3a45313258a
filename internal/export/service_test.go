package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mohammed-shakir/feature-export/internal/core/executor"
	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
	"github.com/mohammed-shakir/feature-export/internal/mail"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func strp(s string) *string { return &s }
func fp(f float64) *float64 { return &f }

// fakeLayer serves total records in pages of pageSize, like a feature server.
type fakeLayer struct {
	mu       sync.Mutex
	total    int
	pageSize int
	failAt   int
	strict   bool
	calls    int
	queries  []map[string]string
}

func (l *fakeLayer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.mu.Lock()
	l.calls++
	call := l.calls
	q := r.URL.Query()
	l.queries = append(l.queries, map[string]string{
		"where":        q.Get("where"),
		"outFields":    q.Get("outFields"),
		"resultOffset": q.Get("resultOffset"),
	})
	l.mu.Unlock()

	if l.failAt == call {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	fields := []model.Field{{Name: "REQUEST_NO"}, {Name: "REQUEST_TYPE"}, {Name: "STATUS_DESCRIPTION"}, {Name: "Sci_Name"}}
	w.Header().Set("Content-Type", "application/json")
	if l.strict && !knownOutFields(fields, q.Get("outFields")) {
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Cannot perform query. Invalid query parameters.","details":["Unable to perform query. Please check your parameters."]}}`)
		return
	}
	offset, _ := strconv.Atoi(q.Get("resultOffset"))
	end := l.total
	if l.pageSize > 0 {
		end = min(offset+l.pageSize, l.total)
	}
	if q.Get("where") == "1=0" {
		end = offset
	}
	resp := model.FeatureResponse{Fields: fields}
	for i := offset; i < end; i++ {
		resp.Features = append(resp.Features, model.Feature{
			Attributes: model.Attributes{
				RequestNo:         int64(i + 1),
				RequestType:       strp("prune"),
				StatusDescription: strp("open"),
				Extra:             map[string]any{"Sci_Name": "Quercus"},
			},
			Geometry: &model.Geometry{X: fp(46.7 + float64(i)/1000), Y: fp(24.7)},
		})
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// knownOutFields mirrors a feature server rejecting fields it does not have.
func knownOutFields(fields []model.Field, outFields string) bool {
	if outFields == "" || outFields == "*" {
		return true
	}
	have := map[string]bool{}
	for _, f := range fields {
		have[f.Name] = true
	}
	for _, name := range strings.Split(outFields, ",") {
		if !have[name] {
			return false
		}
	}
	return true
}

func (l *fakeLayer) snapshot() (int, []map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, append([]map[string]string(nil), l.queries...)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newService(t *testing.T, layer *fakeLayer, opts ...Option) *Service {
	t.Helper()
	srv := httptest.NewServer(layer)
	t.Cleanup(srv.Close)
	base := srv.URL + "/arcgis/rest/services/Trees/FeatureServer/0"
	cfg := Config{
		ColumnURL: base,
		FullURL:   base,
		EmailURL:  base,
		Title:     "Trees",
		Mail:      MailDefaults{DefaultTo: "ops@example.com", Subject: "Export", Body: "Attached."},
	}
	opts = append([]Option{
		WithClock(func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }),
		WithIDGenerator(func() string { return "exp-1" }),
	}, opts...)
	return New(discard(), executor.New(discard(), srv.Client()), cfg, opts...)
}

func rows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()
	r, err := f.GetRows("FeatureData")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	return r
}

func TestColumnExport_SingleQueryInSelectionOrder(t *testing.T) {
	layer := &fakeLayer{total: 3}
	svc := newService(t, layer)
	cols := []string{"STATUS_DESCRIPTION", "REQUEST_NO", "Sci_Name"}

	art, err := svc.ColumnExport(context.Background(), cols, "REQUEST_NO > 0")
	if err != nil {
		t.Fatalf("ColumnExport: %v", err)
	}
	if art.Name != ColumnArtifactName || art.Rows != 3 || art.ID != "exp-1" {
		t.Fatalf("artifact=%+v", art)
	}
	got := rows(t, art.Data)
	if len(got) != 4 {
		t.Fatalf("rows=%d want 4", len(got))
	}
	if fmt.Sprint(got[0]) != "[STATUS_DESCRIPTION REQUEST_NO Sci_Name]" {
		t.Fatalf("header=%v", got[0])
	}
	if fmt.Sprint(got[3]) != "[open 3 Quercus]" {
		t.Fatalf("row 3=%v", got[3])
	}

	calls, qs := layer.snapshot()
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
	if qs[0]["outFields"] != "STATUS_DESCRIPTION,REQUEST_NO,Sci_Name" || qs[0]["where"] != "REQUEST_NO > 0" || qs[0]["resultOffset"] != "" {
		t.Fatalf("query=%v", qs[0])
	}
}

func TestColumnExport_DerivedColumnsStayLocal(t *testing.T) {
	layer := &fakeLayer{total: 1}
	svc := newService(t, layer)
	art, err := svc.ColumnExport(context.Background(), []string{"REQUEST_NO", "GEOMETRY_X"}, "")
	if err != nil {
		t.Fatalf("ColumnExport: %v", err)
	}
	_, qs := layer.snapshot()
	if qs[0]["outFields"] != "REQUEST_NO" || qs[0]["where"] != "1=1" {
		t.Fatalf("query=%v", qs[0])
	}
	if got := rows(t, art.Data); got[1][1] != "46.7" {
		t.Fatalf("GEOMETRY_X=%q", got[1][1])
	}
}

func TestColumnExport_Idempotent(t *testing.T) {
	svc := newService(t, &fakeLayer{total: 5})
	cols := []string{"REQUEST_NO", "REQUEST_TYPE"}
	a, err := svc.ColumnExport(context.Background(), cols, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.ColumnExport(context.Background(), cols, "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("same inputs produced different workbook bytes")
	}
}

func TestColumnExport_ServerRejectsUnknownField(t *testing.T) {
	layer := &fakeLayer{total: 2, strict: true}
	svc := newService(t, layer)

	_, err := svc.ColumnExport(context.Background(), []string{"REQUEST_NO", "FOO"}, "")
	var fe *exporterr.FieldResolutionError
	if !errors.As(err, &fe) || fe.Field != "FOO" {
		t.Fatalf("want FieldResolutionError for FOO, got %T %v", err, err)
	}
	if code := exporterr.Code(err); code != "unknown_field" {
		t.Fatalf("code=%q want unknown_field", code)
	}
	calls, qs := layer.snapshot()
	if calls != 2 || qs[1]["where"] != "1=0" {
		t.Fatalf("calls=%d queries=%v", calls, qs)
	}

	art, err := svc.ColumnExport(context.Background(), []string{"REQUEST_NO", "Sci_Name"}, "")
	if err != nil || art.Rows != 2 {
		t.Fatalf("valid selection: rows=%d err=%v", art.Rows, err)
	}
}

func TestColumnExport_RejectedWithoutSchemaStaysUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Cannot perform query. Invalid query parameters."}}`)
	}))
	t.Cleanup(srv.Close)
	svc := New(discard(), executor.New(discard(), srv.Client()), Config{ColumnURL: srv.URL + "/FeatureServer/0"})

	_, err := svc.ColumnExport(context.Background(), []string{"REQUEST_NO", "FOO"}, "")
	var pe *exporterr.ParseError
	if !errors.As(err, &pe) || !pe.Rejected() {
		t.Fatalf("want rejected ParseError, got %T %v", err, err)
	}
	if code := exporterr.Code(err); code != "upstream_failed" {
		t.Fatalf("code=%q want upstream_failed", code)
	}
}

func TestColumnExport_Errors(t *testing.T) {
	svc := newService(t, &fakeLayer{total: 1})
	var pe *exporterr.PreconditionError
	if _, err := svc.ColumnExport(context.Background(), nil, ""); !errors.As(err, &pe) {
		t.Fatalf("no columns: %v", err)
	}
	var fe *exporterr.FieldResolutionError
	if _, err := svc.ColumnExport(context.Background(), []string{"FOO"}, ""); !errors.As(err, &fe) {
		t.Fatalf("unknown column: %v", err)
	}

	failing := newService(t, &fakeLayer{total: 1, failAt: 1})
	var te *exporterr.TransportError
	if _, err := failing.ColumnExport(context.Background(), []string{"REQUEST_NO"}, ""); !errors.As(err, &te) || te.Status != 500 {
		t.Fatalf("upstream 500: %v", err)
	}
}

func TestFullExport_PaginatesIntoReport(t *testing.T) {
	layer := &fakeLayer{total: 237, pageSize: 100}
	svc := newService(t, layer)

	art, err := svc.FullExport(context.Background())
	if err != nil {
		t.Fatalf("FullExport: %v", err)
	}
	if art.Name != "FeatureData-20260304050607.xlsx" || art.Rows != 237 {
		t.Fatalf("artifact=%+v", art)
	}
	got := rows(t, art.Data)
	if len(got) != 239 {
		t.Fatalf("rows=%d want 239", len(got))
	}
	if got[0][0] != "Trees" || fmt.Sprint(got[1]) != "[REQUEST_NO REQUEST_TYPE STATUS_DESCRIPTION]" {
		t.Fatalf("title/header=%v %v", got[0], got[1])
	}
	if got[238][0] != "237" {
		t.Fatalf("last row=%v", got[238])
	}

	calls, qs := layer.snapshot()
	if calls != 4 {
		t.Fatalf("calls=%d want 4", calls)
	}
	for i, want := range []string{"0", "100", "200", "237"} {
		if qs[i]["resultOffset"] != want || qs[i]["outFields"] != "*" {
			t.Fatalf("page %d query=%v", i, qs[i])
		}
	}
}

func TestFullExport_PageFailureAborts(t *testing.T) {
	svc := newService(t, &fakeLayer{total: 237, pageSize: 100, failAt: 2})
	art, err := svc.FullExport(context.Background())
	var te *exporterr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if art.Data != nil {
		t.Fatal("no artifact on failure")
	}
}

func TestExportAndEmail(t *testing.T) {
	sender := &fakeSender{}
	svc := newService(t, &fakeLayer{total: 2}, WithSender(sender))

	art, err := svc.ExportAndEmail(context.Background(), "")
	if err != nil {
		t.Fatalf("ExportAndEmail: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent=%d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ops@example.com" || msg.AttachmentName != EmailAttachmentName || msg.Subject != "Export" {
		t.Fatalf("message=%+v", msg)
	}
	if !bytes.Equal(msg.Data, art.Data) || len(rows(t, msg.Data)) != 4 {
		t.Fatal("attachment should be the generated report")
	}

	if _, err := svc.ExportAndEmail(context.Background(), "other@example.com"); err != nil {
		t.Fatal(err)
	}
	if sender.sent[1].To != "other@example.com" {
		t.Fatalf("explicit recipient ignored: %q", sender.sent[1].To)
	}
}

func TestExportAndEmail_DeliveryFailureIsDistinct(t *testing.T) {
	sender := &fakeSender{err: errors.New("535 auth failed")}
	svc := newService(t, &fakeLayer{total: 2}, WithSender(sender))
	art, err := svc.ExportAndEmail(context.Background(), "ops@example.com")
	var de *exporterr.DeliveryError
	if !errors.As(err, &de) || de.Recipient != "ops@example.com" {
		t.Fatalf("want DeliveryError, got %v", err)
	}
	if exporterr.Code(err) != "delivery_failed" {
		t.Fatalf("code=%s", exporterr.Code(err))
	}
	if len(art.Data) == 0 {
		t.Fatal("generated report should still be returned")
	}
}

func TestExportAndEmail_NotConfigured(t *testing.T) {
	noMail := newService(t, &fakeLayer{total: 1})
	if _, err := noMail.ExportAndEmail(context.Background(), "a@b.c"); !errors.Is(err, exporterr.ErrNotConfigured) {
		t.Fatalf("no sender: %v", err)
	}

	svc := New(discard(), nil, Config{}, WithSender(&fakeSender{}))
	if _, err := svc.ExportAndEmail(context.Background(), "a@b.c"); !errors.Is(err, exporterr.ErrNotConfigured) {
		t.Fatalf("no endpoint: %v", err)
	}
	if _, err := svc.FullExport(context.Background()); !errors.Is(err, exporterr.ErrNotConfigured) {
		t.Fatalf("no full endpoint: %v", err)
	}
}

func TestGeoJSONExport(t *testing.T) {
	svc := newService(t, &fakeLayer{total: 3, pageSize: 2})
	art, err := svc.GeoJSONExport(context.Background())
	if err != nil {
		t.Fatalf("GeoJSONExport: %v", err)
	}
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(art.Data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Type != "FeatureCollection" || len(doc.Features) != 3 {
		t.Fatalf("doc=%+v", doc)
	}
	f := doc.Features[0]
	if f.Geometry.Type != "Point" || f.Geometry.Coordinates[0] != 46.7 || f.Geometry.Coordinates[1] != 24.7 {
		t.Fatalf("geometry=%+v", f.Geometry)
	}
	if f.Properties["Sci_Name"] != "Quercus" {
		t.Fatalf("properties=%v", f.Properties)
	}
	if art.Name != "FeatureData-20260304050607.geojson" || art.ContentType != GeoJSONContentType {
		t.Fatalf("artifact=%+v", art)
	}
}

func TestFeatureCollection_SkipsMissingGeometry(t *testing.T) {
	fc, skipped := FeatureCollection([]model.Feature{
		{Attributes: model.Attributes{RequestNo: 1}},
		{Attributes: model.Attributes{RequestNo: 2}, Geometry: &model.Geometry{X: fp(1), Y: fp(2)}},
	})
	if skipped != 1 || len(fc.Features) != 1 {
		t.Fatalf("skipped=%d features=%d", skipped, len(fc.Features))
	}
}

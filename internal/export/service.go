// Package export runs the three export flows: column, full and email.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/feature-export/internal/attributes"
	"github.com/mohammed-shakir/feature-export/internal/core/exporterr"
	"github.com/mohammed-shakir/feature-export/internal/core/model"
	"github.com/mohammed-shakir/feature-export/internal/core/observability"
	"github.com/mohammed-shakir/feature-export/internal/logger"
	"github.com/mohammed-shakir/feature-export/internal/mail"
	"github.com/mohammed-shakir/feature-export/internal/pagination"
	"github.com/mohammed-shakir/feature-export/internal/sheet"
)

const (
	FlowColumns = "columns"
	FlowFull    = "full"
	FlowEmail   = "email"
	FlowGeoJSON = "geojson"
)

const (
	ColumnArtifactName  = "Report.xlsx"
	EmailAttachmentName = "FeatureData.xlsx"
	fullArtifactPrefix  = "FeatureData-"
	timestampLayout     = "20060102150405"

	// schemaWhere matches nothing, so the layer answers with its field list only.
	schemaWhere = "1=0"
)

// Artifact is one generated file. It is owned by the caller once returned.
type Artifact struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
	Rows        int
}

type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

type MailDefaults struct {
	DefaultTo string
	Subject   string
	Body      string
}

type Config struct {
	ColumnURL   string
	FullURL     string
	EmailURL    string
	FullColumns []string
	Title       string
	Mail        MailDefaults
}

type Option func(*Service)

// WithSender enables ExportAndEmail.
func WithSender(s Sender) Option {
	return func(svc *Service) { svc.sender = s }
}

// WithCellIndexer adds the H3_CELL column to every flow.
func WithCellIndexer(ix attributes.CellIndexer) Option {
	return func(svc *Service) {
		if ix != nil {
			svc.attrOpts = append(svc.attrOpts, attributes.WithCellIndexer(ix))
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(svc *Service) {
		if gen != nil {
			svc.newID = gen
		}
	}
}

type Service struct {
	cfg      Config
	fetch    pagination.PageFetcher
	pages    *pagination.Driver
	sender   Sender
	attrOpts []attributes.Option
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

func New(log *slog.Logger, fetch pagination.PageFetcher, cfg Config, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.FullColumns) == 0 {
		cfg.FullColumns = model.KnownFields
	}
	svc := &Service{
		cfg:    cfg,
		fetch:  fetch,
		pages:  pagination.New(log, fetch),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: log,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// KnownColumns lists the columns every flow can resolve without a reported schema.
func (s *Service) KnownColumns() []string {
	return attributes.New(nil, s.attrOpts...).Columns()
}

// ColumnExport runs one unpaged query restricted to columns and writes a plain table.
func (s *Service) ColumnExport(ctx context.Context, columns []string, where string) (Artifact, error) {
	ctx, id := s.begin(ctx, FlowColumns)
	art, err := s.columnExport(ctx, columns, where)
	art.ID = id
	s.finish(ctx, FlowColumns, art, err)
	return art, err
}

func (s *Service) columnExport(ctx context.Context, columns []string, where string) (Artifact, error) {
	if len(columns) == 0 {
		return Artifact{}, &exporterr.PreconditionError{Reason: "no columns selected"}
	}
	if s.cfg.ColumnURL == "" {
		return Artifact{}, fmt.Errorf("column export endpoint: %w", exporterr.ErrNotConfigured)
	}
	q := model.QueryRequest{Endpoint: s.cfg.ColumnURL, Where: where, OutFields: serverFields(columns)}
	resp, err := s.fetch.FetchPage(ctx, q)
	if err != nil {
		var pe *exporterr.ParseError
		if errors.As(err, &pe) && pe.Rejected() {
			if ferr := s.checkColumns(ctx, columns); ferr != nil {
				return Artifact{}, fmt.Errorf("column export: %w", ferr)
			}
		}
		return Artifact{}, fmt.Errorf("column export: %w", err)
	}
	ex := attributes.ForResponse(resp.Fields, resp.Features, s.attrOpts...)
	data, err := sheet.BuildTable(columns, resp.Features, ex)
	if err != nil {
		return Artifact{}, fmt.Errorf("column export: %w", err)
	}
	return Artifact{Name: ColumnArtifactName, ContentType: sheet.ContentType, Data: data, Rows: len(resp.Features)}, nil
}

// checkColumns resolves columns against the layer's reported schema. It
// returns nil when the schema is unavailable or every column resolves.
func (s *Service) checkColumns(ctx context.Context, columns []string) error {
	resp, err := s.fetch.FetchPage(ctx, model.QueryRequest{Endpoint: s.cfg.ColumnURL, Where: schemaWhere})
	if err != nil || resp == nil || len(resp.Fields) == 0 {
		return nil
	}
	_, err = attributes.New(resp.Fields, s.attrOpts...).Resolve(columns)
	var fe *exporterr.FieldResolutionError
	if errors.As(err, &fe) {
		s.logger.DebugContext(ctx, "column rejected by feature server", "field", fe.Field)
		return err
	}
	return nil
}

// FullExport pages through the full endpoint and writes the titled report.
func (s *Service) FullExport(ctx context.Context) (Artifact, error) {
	ctx, id := s.begin(ctx, FlowFull)
	art, err := s.fullExport(ctx)
	art.ID = id
	s.finish(ctx, FlowFull, art, err)
	return art, err
}

func (s *Service) fullExport(ctx context.Context) (Artifact, error) {
	res, err := s.FetchFull(ctx)
	if err != nil {
		return Artifact{}, err
	}
	ex := attributes.ForResponse(res.Fields, res.Features, s.attrOpts...)
	data, err := sheet.BuildReport(s.cfg.Title, s.cfg.FullColumns, res.Features, ex)
	if err != nil {
		return Artifact{}, fmt.Errorf("full export: %w", err)
	}
	return Artifact{
		Name:        fullArtifactPrefix + s.now().Format(timestampLayout) + ".xlsx",
		ContentType: sheet.ContentType,
		Data:        data,
		Rows:        len(res.Features),
	}, nil
}

// FetchFull returns every record of the full endpoint, all fields.
func (s *Service) FetchFull(ctx context.Context) (pagination.Result, error) {
	if s.cfg.FullURL == "" {
		return pagination.Result{}, fmt.Errorf("full export endpoint: %w", exporterr.ErrNotConfigured)
	}
	res, err := s.pages.FetchAll(ctx, model.QueryRequest{Endpoint: s.cfg.FullURL, Where: model.DefaultWhere})
	if err != nil {
		return pagination.Result{}, fmt.Errorf("full export: %w", err)
	}
	return res, nil
}

// ExportAndEmail builds the report from one query and mails it. An empty
// recipient falls back to the configured default.
func (s *Service) ExportAndEmail(ctx context.Context, recipient string) (Artifact, error) {
	ctx, id := s.begin(ctx, FlowEmail)
	art, err := s.exportAndEmail(ctx, recipient)
	art.ID = id
	s.finish(ctx, FlowEmail, art, err)
	return art, err
}

func (s *Service) exportAndEmail(ctx context.Context, recipient string) (Artifact, error) {
	if s.cfg.EmailURL == "" {
		return Artifact{}, fmt.Errorf("email export endpoint: %w", exporterr.ErrNotConfigured)
	}
	if s.sender == nil {
		return Artifact{}, fmt.Errorf("mail delivery: %w", exporterr.ErrNotConfigured)
	}
	if recipient == "" {
		recipient = s.cfg.Mail.DefaultTo
	}
	if recipient == "" {
		return Artifact{}, &exporterr.PreconditionError{Reason: "no recipient"}
	}

	resp, err := s.fetch.FetchPage(ctx, model.QueryRequest{Endpoint: s.cfg.EmailURL, Where: model.DefaultWhere})
	if err != nil {
		return Artifact{}, fmt.Errorf("email export: %w", err)
	}
	ex := attributes.ForResponse(resp.Fields, resp.Features, s.attrOpts...)
	data, err := sheet.BuildReport(s.cfg.Title, s.cfg.FullColumns, resp.Features, ex)
	if err != nil {
		return Artifact{}, fmt.Errorf("email export: %w", err)
	}
	art := Artifact{Name: EmailAttachmentName, ContentType: sheet.ContentType, Data: data, Rows: len(resp.Features)}

	err = s.sender.Send(ctx, mail.Message{
		To:             recipient,
		Subject:        s.cfg.Mail.Subject,
		Body:           s.cfg.Mail.Body,
		AttachmentName: art.Name,
		ContentType:    art.ContentType,
		Data:           art.Data,
	})
	observability.ObserveEmail(err)
	if err != nil {
		var pe *exporterr.PreconditionError
		if errors.As(err, &pe) {
			return art, err
		}
		return art, &exporterr.DeliveryError{Recipient: recipient, Err: err}
	}
	return art, nil
}

func (s *Service) begin(ctx context.Context, flow string) (context.Context, string) {
	id := s.newID()
	ctx = logger.WithExportID(ctx, id)
	ctx = logger.WithFlow(ctx, flow)
	s.logger.DebugContext(ctx, "export started")
	return ctx, id
}

func (s *Service) finish(ctx context.Context, flow string, art Artifact, err error) {
	observability.ObserveExport(flow, art.Rows, err)
	if err != nil {
		s.logger.WarnContext(ctx, "export failed", "code", exporterr.Code(err), "err", err)
		return
	}
	s.logger.InfoContext(ctx, "export done", "name", art.Name, "rows", art.Rows, "bytes", len(art.Data))
}

// serverFields drops derived columns the feature server does not know about.
func serverFields(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		switch c {
		case attributes.ColumnGeometryX, attributes.ColumnGeometryY, attributes.ColumnH3Cell:
			continue
		}
		out = append(out, c)
	}
	return out
}

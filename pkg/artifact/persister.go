// Package artifact normalizes generated book formats, uploads them to object
// storage and upserts the book record of an execution.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/dukex/inkwell/pkg/metrics"
	"github.com/dukex/inkwell/pkg/models"
	"github.com/dukex/inkwell/pkg/orchestration"
	"github.com/dukex/inkwell/pkg/otelhelper"
	"github.com/dukex/inkwell/pkg/persistence"
	"github.com/dukex/inkwell/pkg/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrAllUploadsFailed = errors.New("all uploads failed")

type Request struct {
	ExecutionID string
	UserID      string
	Title       string
	Formats     map[string]any
	Content     models.BookContent
	Metadata    map[string]any
}

type Result struct {
	FormatURLs    map[string]string
	OutputFormats []string
	Book          *models.BookArtifact
}

type Persister struct {
	storage storage.ObjectStorage
	books   persistence.BookRepository
	bucket  string
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

type Option func(*Persister)

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Persister) {
		p.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Persister) {
		p.tracer = tracer
	}
}

func NewPersister(objects storage.ObjectStorage, books persistence.BookRepository, bucket string, logger *slog.Logger, opts ...Option) *Persister {
	p := &Persister{
		storage: objects,
		books:   books,
		bucket:  bucket,
		metrics: metrics.NewNop(),
		tracer:  otelhelper.NoopTracer(),
		logger:  logger.With("module", "artifact_persister"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Persist uploads every format and upserts the book keyed by execution id.
// A format that cannot be normalized is skipped. An upload failure aborts
// the whole call.
func (p *Persister) Persist(ctx context.Context, req Request) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, p.tracer, "artifact.persist",
		attribute.String(otelhelper.ExecutionIDKey, req.ExecutionID),
		attribute.String(otelhelper.UserIDKey, req.UserID),
	)
	defer span.End()

	logger := p.logger.With("execution_id", req.ExecutionID, "user_id", req.UserID)

	title := req.Title
	if title == "" {
		title = req.Content.Title
	}

	if title == "" {
		title = "Untitled"
	}

	baseName := SanitizeTitle(title)
	urls := make(map[string]string, len(req.Formats))
	snapshots := make(map[string]string)
	usedKeys := make(map[string]string)

	for _, format := range slices.Sorted(maps.Keys(req.Formats)) {
		payload, err := Normalize(format, req.Formats[format])
		if err != nil {
			logger.WarnContext(ctx, "Skipping format that could not be normalized", "format", format, "error", err)
			p.metrics.ArtifactUploads.WithLabelValues(format, "skipped").Inc()

			continue
		}

		extension := Extension(format, payload.MimeType)
		key := fmt.Sprintf("%s/%s/%s.%s", req.UserID, req.ExecutionID, baseName, extension)

		// Aliases sharing an extension (markdown and md) get distinct objects.
		if _, taken := usedKeys[key]; taken {
			key = fmt.Sprintf("%s/%s/%s-%s.%s", req.UserID, req.ExecutionID, baseName, SanitizeTitle(format), extension)
		}

		usedKeys[key] = format

		if err := p.storage.Upload(ctx, p.bucket, key, payload.Data, payload.MimeType); err != nil {
			p.metrics.ArtifactUploads.WithLabelValues(format, "error").Inc()
			otelhelper.SetError(span, err, attribute.String(otelhelper.FormatKey, format))
			logger.ErrorContext(ctx, "Upload failed, aborting persist", "format", format, "key", key, "error", err)

			return Result{}, orchestration.NewExecutionError("Persist", req.ExecutionID,
				fmt.Errorf("%w: upload %s: %w", orchestration.ErrPersistenceFailure, format, err))
		}

		p.metrics.ArtifactUploads.WithLabelValues(format, "ok").Inc()
		urls[format] = p.storage.PublicURL(p.bucket, key)

		if IsTextual(payload.MimeType) {
			snapshots[format] = p.snapshot(ctx, format, payload)
		}
	}

	if len(urls) == 0 {
		err := orchestration.NewExecutionError("Persist", req.ExecutionID,
			fmt.Errorf("%w: %w", orchestration.ErrPersistenceFailure, ErrAllUploadsFailed))
		otelhelper.SetError(span, err)

		return Result{}, err
	}

	outputFormats := slices.Sorted(maps.Keys(urls))

	content := req.Content
	content.Title = title
	content.Snapshots = snapshots
	fillTotals(&content)

	metadata := maps.Clone(req.Metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata["execution_id"] = req.ExecutionID
	metadata["output_formats"] = outputFormats
	metadata["persisted_at"] = time.Now().UTC().Format(time.RFC3339)

	book, err := p.books.UpsertByExecution(ctx, &models.BookArtifact{
		UserID:     req.UserID,
		Title:      title,
		FormatURLs: urls,
		Content:    content,
		Metadata:   metadata,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return Result{}, orchestration.NewExecutionError("Persist", req.ExecutionID,
			fmt.Errorf("%w: upsert book: %w", orchestration.ErrPersistenceFailure, err))
	}

	logger.InfoContext(ctx, "Book persisted", "book_id", book.ID, "formats", outputFormats)

	return Result{FormatURLs: urls, OutputFormats: outputFormats, Book: book}, nil
}

// snapshot keeps the text of a format. HTML is kept as markdown.
func (p *Persister) snapshot(ctx context.Context, format string, payload Payload) string {
	if format != "html" {
		return string(payload.Data)
	}

	markdown, err := htmltomarkdown.ConvertString(string(payload.Data))
	if err != nil {
		p.logger.WarnContext(ctx, "Keeping raw html snapshot", "error", err)

		return string(payload.Data)
	}

	return markdown
}

func fillTotals(content *models.BookContent) {
	if content.TotalChapters == 0 {
		content.TotalChapters = len(content.Sections)
	}

	if content.TotalWords == 0 {
		for _, section := range content.Sections {
			content.TotalWords += section.WordCount
		}
	}
}

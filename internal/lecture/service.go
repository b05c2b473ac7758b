package lecture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/lecturelens/internal/blobstore"
	"github.com/kalambet/lecturelens/internal/convert"
	"github.com/kalambet/lecturelens/internal/metrics"
	"github.com/kalambet/lecturelens/internal/storage"
)

// SummaryJobType is the job queued after every analysis when AI summaries
// are enabled.
const SummaryJobType = "lecture_summary"

// MaxInlineText is the largest converted text kept inside a material document.
const MaxInlineText = 1 << 20

var ErrNoBlobStore = errors.New("no blob store configured for binary materials")

// JobQueue accepts background jobs.
type JobQueue interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Service runs the upload, re-analysis and material flows on top of a
// Repository.
type Service struct {
	repo    *Repository
	builder *Builder
	blobs   blobstore.Store
	jobs    JobQueue
	logger  *slog.Logger
	now     func() time.Time
}

type ServiceOption func(*Service)

func WithBlobStore(b blobstore.Store) ServiceOption {
	return func(s *Service) { s.blobs = b }
}

// WithJobQueue enables summary jobs.
func WithJobQueue(q JobQueue) ServiceOption {
	return func(s *Service) { s.jobs = q }
}

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func NewService(repo *Repository, builder *Builder, opts ...ServiceOption) *Service {
	s := &Service{
		repo:    repo,
		builder: builder,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Repository() *Repository { return s.repo }

// UploadRequest is one transcript upload. Transcript is already plain text.
type UploadRequest struct {
	Draft           Draft
	Transcript      string
	DurationMinutes float64
	Filename        string
}

// Upload analyzes a transcript and stores the lecture, its transcript and a
// text_metrics record. Uploading the same lecture again replaces the
// lecture and transcript, keeps created_at and appends a new record.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (Analysis, error) {
	start := time.Now()
	a, err := s.builder.Build(req.Draft, req.Transcript, req.DurationMinutes)
	if err != nil {
		metrics.Analyses.WithLabelValues("invalid").Inc()
		return Analysis{}, err
	}
	if existing, err := s.repo.GetLecture(ctx, a.Lecture.ID); err == nil {
		if existing.Status == StatusArchived {
			metrics.Analyses.WithLabelValues("invalid").Inc()
			return Analysis{}, newValidationError("status", "not_archived", "archived lectures cannot be re-analyzed")
		}
		a.Lecture.CreatedAt = existing.CreatedAt
		if prev, err := s.repo.GetMaterial(ctx, a.Lecture.ID, MaterialTranscript); err == nil {
			a.Transcript.CreatedAt = prev.CreatedAt
		}
	}
	a.Transcript.Filename = req.Filename
	return s.store(ctx, a, start)
}

// Reanalyze replaces a lecture's metrics with those of a new transcript.
// A durationMinutes <= 0 keeps the stored duration.
func (s *Service) Reanalyze(ctx context.Context, id, transcript string, durationMinutes float64) (Analysis, error) {
	return s.reanalyze(ctx, id, transcript, durationMinutes, "")
}

func (s *Service) reanalyze(ctx context.Context, id, transcript string, durationMinutes float64, filename string) (Analysis, error) {
	start := time.Now()
	existing, err := s.repo.GetLecture(ctx, id)
	if err != nil {
		return Analysis{}, err
	}
	a, err := s.builder.Rebuild(existing, transcript, durationMinutes)
	if err != nil {
		metrics.Analyses.WithLabelValues("invalid").Inc()
		return Analysis{}, err
	}
	if prev, err := s.repo.GetMaterial(ctx, id, MaterialTranscript); err == nil {
		a.Transcript.CreatedAt = prev.CreatedAt
		if filename == "" {
			filename = prev.Filename
		}
	}
	a.Transcript.Filename = filename
	return s.store(ctx, a, start)
}

// store persists an analysis. Cancellation is honoured up to the first
// write; after that the writes run to completion.
func (s *Service) store(ctx context.Context, a Analysis, start time.Time) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		metrics.Analyses.WithLabelValues("cancelled").Inc()
		return Analysis{}, err
	}
	ctx = context.WithoutCancel(ctx)

	if err := s.persist(ctx, a); err != nil {
		metrics.Analyses.WithLabelValues("not_stored").Inc()
		s.logger.Error("storing analysis failed", "lecture_id", a.Lecture.ID, "error", err)
		return Analysis{}, &NotStoredError{Analysis: a, Err: err}
	}
	metrics.Analyses.WithLabelValues("stored").Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	s.logger.Info("lecture analyzed",
		"lecture_id", a.Lecture.ID,
		"words", a.Lecture.WordCount,
		"readability", *a.Lecture.ReadabilityScore,
		"engagement", *a.Lecture.EngagementScore,
	)
	s.enqueueSummary(ctx, a.Lecture.ID)
	return a, nil
}

// persist writes the lecture last so a readable lecture always has its
// transcript and metrics.
func (s *Service) persist(ctx context.Context, a Analysis) error {
	if err := s.repo.SaveMaterial(ctx, a.Transcript); err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	if _, err := s.repo.AppendRecord(ctx, a.Record); err != nil {
		return fmt.Errorf("saving analytics record: %w", err)
	}
	if err := s.repo.SaveLecture(ctx, a.Lecture); err != nil {
		return fmt.Errorf("saving lecture: %w", err)
	}
	return nil
}

func (s *Service) enqueueSummary(ctx context.Context, lectureID string) {
	if s.jobs == nil {
		return
	}
	job := storage.Job{
		ID:        uuid.NewString(),
		Type:      SummaryJobType,
		LectureID: lectureID,
	}
	if err := s.jobs.EnqueueJob(ctx, job); err != nil {
		s.logger.Warn("failed to enqueue summary job", "lecture_id", lectureID, "error", err)
	}
}

// Archive moves an analyzed lecture to Archived. Archiving twice is a no-op.
func (s *Service) Archive(ctx context.Context, id string) (Lecture, error) {
	l, err := s.repo.GetLecture(ctx, id)
	if err != nil {
		return Lecture{}, err
	}
	switch l.Status {
	case StatusArchived:
		return l, nil
	case StatusDraft:
		return Lecture{}, newValidationError("status", "analyzed", "only analyzed lectures can be archived")
	}
	now := s.now().UTC()
	if err := s.repo.SetStatus(context.WithoutCancel(ctx), id, StatusArchived, now); err != nil {
		return Lecture{}, err
	}
	l.Status = StatusArchived
	l.LastUpdated = now
	return l, nil
}

func (s *Service) Get(ctx context.Context, id string) (Lecture, error) {
	return s.repo.GetLecture(ctx, id)
}

func (s *Service) List(ctx context.Context, f LectureFilter) ([]Lecture, error) {
	return s.repo.ListLectures(ctx, f)
}

func (s *Service) Materials(ctx context.Context, lectureID string) ([]Material, error) {
	if _, err := s.repo.GetLecture(ctx, lectureID); err != nil {
		return nil, err
	}
	return s.repo.ListMaterials(ctx, lectureID)
}

func (s *Service) Records(ctx context.Context, lectureID, analysisType string) ([]AnalyticsRecord, error) {
	if _, err := s.repo.GetLecture(ctx, lectureID); err != nil {
		return nil, err
	}
	return s.repo.ListRecords(ctx, lectureID, analysisType)
}

// MaterialUpload is a file attached to an existing lecture.
type MaterialUpload struct {
	Type        MaterialType
	Filename    string
	ContentType string
	Data        []byte
}

// AddMaterial stores a file for a lecture. A transcript re-analyzes the
// lecture. Other documents are kept as text when they convert and fit
// inline; everything else goes to the blob store.
func (s *Service) AddMaterial(ctx context.Context, lectureID string, u MaterialUpload) (Material, error) {
	if _, ok := ParseMaterialType(string(u.Type)); !ok {
		return Material{}, newValidationError("material_type", "oneof", "must be one of transcript, slides, supplementary, media")
	}
	if len(u.Data) == 0 {
		return Material{}, newValidationError("file", "required", "is empty")
	}

	if u.Type == MaterialTranscript {
		text, err := convert.ToText(u.Filename, u.ContentType, u.Data)
		if err != nil {
			return Material{}, err
		}
		a, err := s.reanalyze(ctx, lectureID, text, 0, u.Filename)
		if err != nil {
			return Material{}, err
		}
		return a.Transcript, nil
	}

	l, err := s.repo.GetLecture(ctx, lectureID)
	if err != nil {
		return Material{}, err
	}
	now := s.now().UTC()
	m := Material{
		SchemaVersion: SchemaVersion,
		LectureID:     lectureID,
		Type:          u.Type,
		Filename:      u.Filename,
		ContentType:   u.ContentType,
		Size:          int64(len(u.Data)),
		CreatedAt:     now,
		LastUpdated:   now,
	}
	if prev, err := s.repo.GetMaterial(ctx, lectureID, u.Type); err == nil {
		m.CreatedAt = prev.CreatedAt
	}

	if u.Type != MaterialMedia {
		if text, err := convert.ToText(u.Filename, u.ContentType, u.Data); err == nil && len(text) <= MaxInlineText {
			m.Content = text
		}
	}
	if err := ctx.Err(); err != nil {
		return Material{}, err
	}
	ctx = context.WithoutCancel(ctx)

	if m.Content == "" {
		if s.blobs == nil {
			return Material{}, ErrNoBlobStore
		}
		ref, err := s.blobs.Put(ctx, blobKey(lectureID, u.Type, u.Filename), u.ContentType, u.Data)
		if err != nil {
			return Material{}, fmt.Errorf("storing %s bytes: %w", u.Type, err)
		}
		m.Blob = &ref
	}
	if err := s.repo.SaveMaterial(ctx, m); err != nil {
		return Material{}, err
	}
	s.logger.Info("material stored", "lecture_id", lectureID, "material_type", u.Type, "inline", m.Blob == nil, "bytes", m.Size)
	if m.Content != "" && (m.Type == MaterialSlides || m.Type == MaterialSupplementary) {
		s.rescoreCoverage(ctx, l)
	}
	return m, nil
}

// rescoreCoverage appends a topic_coverage record over the transcript and
// the inline supplementary and slide text. The material is already stored,
// so failures are only logged.
func (s *Service) rescoreCoverage(ctx context.Context, l Lecture) {
	if l.Status != StatusAnalyzed {
		return
	}
	mats, err := s.repo.ListMaterials(ctx, l.ID)
	if err != nil {
		s.logger.Warn("topic coverage skipped", "lecture_id", l.ID, "error", err)
		return
	}
	var transcript string
	extra := make(map[MaterialType]string)
	for _, m := range mats {
		if m.Type == MaterialTranscript {
			transcript = m.Content
		} else {
			extra[m.Type] = m.Content
		}
	}
	if transcript == "" {
		return
	}
	rec, err := s.builder.Coverage(l, transcript, extra)
	if err == nil {
		rec, err = s.repo.AppendRecord(ctx, rec)
	}
	if err != nil {
		s.logger.Warn("topic coverage not stored", "lecture_id", l.ID, "error", err)
		return
	}
	s.logger.Info("topic coverage scored", "lecture_id", l.ID, "record_id", rec.ID)
}

// OpenMaterial returns a material and a reader over its bytes, inline or
// from the blob store.
func (s *Service) OpenMaterial(ctx context.Context, lectureID string, t MaterialType) (Material, io.ReadCloser, error) {
	m, err := s.repo.GetMaterial(ctx, lectureID, t)
	if err != nil {
		return Material{}, nil, err
	}
	if m.Blob == nil {
		return m, io.NopCloser(strings.NewReader(m.Content)), nil
	}
	if s.blobs == nil {
		return Material{}, nil, ErrNoBlobStore
	}
	rc, err := s.blobs.Open(ctx, *m.Blob)
	if err != nil {
		return Material{}, nil, err
	}
	return m, rc, nil
}

func blobKey(lectureID string, t MaterialType, filename string) string {
	return lectureID + "/" + string(t) + strings.ToLower(path.Ext(path.Base(filename)))
}

package lecture

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/textmetrics"
)

const dateLayout = "2006-01-02"

// MaxDurationMinutes bounds the duration a lecture may declare.
const MaxDurationMinutes = 24 * 60

// lectureNamespace seeds deterministic lecture ids.
var lectureNamespace = uuid.MustParse("6f1c2a56-7d1e-4c59-9a3e-0b7f6e1d2c48")

// Draft is the caller-supplied lecture metadata.
type Draft struct {
	LectureID  string   `json:"lecture_id,omitempty" validate:"omitempty,max=64,docid"`
	Title      string   `json:"title" validate:"required,max=200"`
	TeacherID  string   `json:"teacher_id" validate:"required,max=64"`
	CourseCode string   `json:"course_code" validate:"required,max=64"`
	Date       string   `json:"date" validate:"required,lecturedate"`
	Topics     []string `json:"topics,omitempty" validate:"max=50,dive,required,max=100"`
	Objectives []string `json:"learning_objectives,omitempty" validate:"max=50,dive,required,max=300"`
}

func (d Draft) normalized() Draft {
	d.LectureID = strings.TrimSpace(d.LectureID)
	d.Title = strings.TrimSpace(d.Title)
	d.TeacherID = strings.TrimSpace(d.TeacherID)
	d.CourseCode = strings.TrimSpace(d.CourseCode)
	d.Date = strings.TrimSpace(d.Date)
	d.Topics = trimAll(d.Topics)
	d.Objectives = trimAll(d.Objectives)
	return d
}

// Builder turns drafts and transcripts into Lecture, Material and
// AnalyticsRecord values. It performs no I/O.
type Builder struct {
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

func NewBuilder() *Builder {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("lecturedate", func(fl validator.FieldLevel) bool {
		_, err := parseDate(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("docid", func(fl validator.FieldLevel) bool {
		return docstore.ValidateID(fl.Field().String()) == nil
	})
	return &Builder{validate: v, now: time.Now, newID: uuid.NewString}
}

// Build validates d, analyzes transcript and returns the documents for a new
// Analyzed lecture. durationMinutes <= 0 means the duration is unknown.
func (b *Builder) Build(d Draft, transcript string, durationMinutes float64) (Analysis, error) {
	d = d.normalized()
	if err := b.ValidateDraft(d); err != nil {
		return Analysis{}, err
	}
	if err := CheckDuration(durationMinutes); err != nil {
		return Analysis{}, err
	}
	m, err := textmetrics.Analyze(transcript, durationMinutes)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzing transcript: %w", err)
	}

	date, _ := parseDate(d.Date)
	id := d.LectureID
	if id == "" {
		id = DeriveID(d.TeacherID, d.Title, date)
	}

	now := b.now().UTC()
	l := Lecture{
		SchemaVersion: SchemaVersion,
		ID:            id,
		Title:         d.Title,
		TeacherID:     d.TeacherID,
		CourseCode:    d.CourseCode,
		Date:          date,
		Topics:        d.Topics,
		Objectives:    d.Objectives,
		CreatedAt:     now,
	}
	if durationMinutes > 0 {
		l.DurationMinutes = durationMinutes
	}
	return b.finish(l, transcript, m, now)
}

// Rebuild re-analyzes an existing lecture with a new transcript. Identity,
// metadata and created_at are kept; metrics and last_updated are replaced.
// A non-positive duration keeps the stored duration.
func (b *Builder) Rebuild(existing Lecture, transcript string, durationMinutes float64) (Analysis, error) {
	if existing.Status == StatusArchived {
		return Analysis{}, newValidationError("status", "not_archived", "archived lectures cannot be re-analyzed")
	}
	if err := CheckDuration(durationMinutes); err != nil {
		return Analysis{}, err
	}
	if durationMinutes <= 0 {
		durationMinutes = existing.DurationMinutes
	}
	m, err := textmetrics.Analyze(transcript, durationMinutes)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzing transcript: %w", err)
	}
	l := existing
	l.SchemaVersion = SchemaVersion
	if durationMinutes > 0 {
		l.DurationMinutes = durationMinutes
	}
	return b.finish(l, transcript, m, b.now().UTC())
}

func (b *Builder) finish(l Lecture, transcript string, m textmetrics.Metrics, now time.Time) (Analysis, error) {
	readability, engagement := m.ReadabilityScore, m.EngagementScore
	l.Status = StatusAnalyzed
	l.WordCount = m.WordCount
	l.ReadabilityScore = &readability
	l.EngagementScore = &engagement
	l.LastUpdated = now
	if err := l.Validate(); err != nil {
		return Analysis{}, err
	}
	if len(l.Topics) > 0 {
		tc := textmetrics.TopicCoverage(transcript, l.Topics)
		m.TopicCoverage = &tc
	}

	insights, err := docstore.Encode(m)
	if err != nil {
		return Analysis{}, err
	}

	return Analysis{
		Lecture: l,
		Transcript: Material{
			SchemaVersion: SchemaVersion,
			LectureID:     l.ID,
			Type:          MaterialTranscript,
			ContentType:   "text/plain; charset=utf-8",
			Content:       transcript,
			Size:          int64(len(transcript)),
			CreatedAt:     now,
			LastUpdated:   now,
		},
		Record: AnalyticsRecord{
			SchemaVersion: SchemaVersion,
			ID:            b.newID(),
			LectureID:     l.ID,
			AnalysisType:  AnalysisTextMetrics,
			Insights:      insights,
			CreatedAt:     now,
		},
	}, nil
}

// CoverageInsights are the insights of a topic_coverage record.
type CoverageInsights struct {
	TopicCoverage textmetrics.TopicReport `json:"topic_coverage"`
	// SourceOverlap is the keyword overlap between the transcript and the
	// supplementary text, nil without supplementary text.
	SourceOverlap *float64       `json:"source_overlap"`
	Sources       []MaterialType `json:"sources"`
}

// Coverage scores l's topics against the transcript combined with the text
// of its other materials, keyed by type. Media and transcript entries in
// extra are ignored.
func (b *Builder) Coverage(l Lecture, transcript string, extra map[MaterialType]string) (AnalyticsRecord, error) {
	ci := CoverageInsights{Sources: []MaterialType{MaterialTranscript}}
	parts := []string{transcript}
	for _, t := range []MaterialType{MaterialSupplementary, MaterialSlides} {
		if text := extra[t]; strings.TrimSpace(text) != "" {
			parts = append(parts, text)
			ci.Sources = append(ci.Sources, t)
		}
	}
	ci.TopicCoverage = textmetrics.TopicCoverage(strings.Join(parts, "\n\n"), l.Topics)
	if ratio, ok := textmetrics.KeywordOverlap(transcript, extra[MaterialSupplementary]); ok {
		ci.SourceOverlap = &ratio
	}

	insights, err := docstore.Encode(ci)
	if err != nil {
		return AnalyticsRecord{}, err
	}
	return AnalyticsRecord{
		SchemaVersion: SchemaVersion,
		ID:            b.newID(),
		LectureID:     l.ID,
		AnalysisType:  AnalysisTopicCoverage,
		Insights:      insights,
		CreatedAt:     b.now().UTC(),
	}, nil
}

// ValidateDraft reports every rule d fails as a *ValidationError.
func (b *Builder) ValidateDraft(d Draft) error {
	err := b.validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	ve := &ValidationError{}
	for _, fe := range verrs {
		ve.Problems = append(ve.Problems, FieldError{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: ruleMessage(fe),
		})
	}
	return ve
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.Slice {
			return "must have at most " + fe.Param() + " entries"
		}
		return "must be at most " + fe.Param() + " characters"
	case "lecturedate":
		return "must be a date in YYYY-MM-DD or RFC 3339 form"
	case "docid":
		return "may only contain letters, digits, '.', '_' and '-'"
	}
	return "failed rule " + fe.Tag()
}

// CheckDuration rejects durations that cannot be stored. Values <= 0 are
// accepted and mean the duration is unknown.
func CheckDuration(minutes float64) error {
	if math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return newValidationError("duration_minutes", "finite", "must be a finite number")
	}
	if minutes > MaxDurationMinutes {
		return newValidationError("duration_minutes", "max", fmt.Sprintf("must be at most %d minutes", MaxDurationMinutes))
	}
	return nil
}

// DeriveID returns the id used for lectures uploaded without one. The same
// teacher, title and date always produce the same id, so re-uploading a
// lecture replaces it instead of duplicating it.
func DeriveID(teacherID, title, date string) string {
	return uuid.NewSHA1(lectureNamespace, []byte(teacherID+"\x00"+title+"\x00"+date)).String()
}

func parseDate(s string) (string, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return "", err
	}
	return t.Format(dateLayout), nil
}

func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

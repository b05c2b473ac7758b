// Package lecture holds the lecture data model, the pure record builder that
// turns a metadata draft and transcript into persisted records, and the
// service that stores them.
package lecture

import (
	"strings"
	"time"

	"github.com/kalambet/lecturelens/internal/blobstore"
	"github.com/kalambet/lecturelens/internal/docstore"
)

// SchemaVersion is written on every document. Readers reject newer versions.
const SchemaVersion = 1

// Collection names.
const (
	CollectionLectures  = "lectures"
	CollectionMaterials = "materials"
	CollectionAnalytics = "analytics"
)

// Analysis types.
const (
	AnalysisTextMetrics   = "text_metrics"
	AnalysisAISummary     = "ai_summary"
	AnalysisTopicCoverage = "topic_coverage"
)

// RemoteIndexes lists the fields the remote store indexes per collection.
var RemoteIndexes = map[string][]string{
	CollectionLectures:  {"teacher_id", "course_code", "date", "status"},
	CollectionMaterials: {"lecture_id", "material_type"},
	CollectionAnalytics: {"lecture_id", "analysis_type", "created_at"},
}

// ErrNotFound is returned when a lecture, material or record does not exist.
var ErrNotFound = docstore.ErrNotFound

type Status string

const (
	StatusDraft    Status = "draft"
	StatusAnalyzed Status = "analyzed"
	StatusArchived Status = "archived"
)

// Scored reports whether lectures in this status carry metric scores.
func (s Status) Scored() bool {
	return s == StatusAnalyzed || s == StatusArchived
}

// ParseStatus accepts a status name case-insensitively.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusDraft, StatusAnalyzed, StatusArchived:
		return st, true
	}
	return "", false
}

// Lecture is one recorded class session. Lectures are archived, never deleted.
type Lecture struct {
	SchemaVersion    int       `json:"schema_version"`
	ID               string    `json:"lecture_id"`
	Title            string    `json:"title"`
	TeacherID        string    `json:"teacher_id"`
	CourseCode       string    `json:"course_code"`
	Date             string    `json:"date"` // YYYY-MM-DD
	DurationMinutes  float64   `json:"duration_minutes,omitempty"`
	Topics           []string  `json:"topics"`
	Objectives       []string  `json:"learning_objectives"`
	Status           Status    `json:"status"`
	WordCount        int       `json:"word_count"`
	ReadabilityScore *float64  `json:"readability_score"`
	EngagementScore  *float64  `json:"engagement_score"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Validate checks that scores are present exactly when the status is scored.
func (l Lecture) Validate() error {
	hasScores := l.ReadabilityScore != nil && l.EngagementScore != nil
	anyScore := l.ReadabilityScore != nil || l.EngagementScore != nil
	switch {
	case l.Status == StatusDraft && anyScore:
		return newValidationError("status", "scores_absent", "a draft lecture cannot carry scores")
	case l.Status.Scored() && !hasScores:
		return newValidationError("status", "scores_present", "an analyzed or archived lecture must carry both scores")
	case l.Status != StatusDraft && !l.Status.Scored():
		return newValidationError("status", "oneof", "unknown status "+string(l.Status))
	}
	return nil
}

type MaterialType string

const (
	MaterialTranscript    MaterialType = "transcript"
	MaterialSlides        MaterialType = "slides"
	MaterialSupplementary MaterialType = "supplementary"
	MaterialMedia         MaterialType = "media"
)

// ParseMaterialType accepts a material type name case-insensitively.
func ParseMaterialType(s string) (MaterialType, bool) {
	switch mt := MaterialType(strings.ToLower(strings.TrimSpace(s))); mt {
	case MaterialTranscript, MaterialSlides, MaterialSupplementary, MaterialMedia:
		return mt, true
	}
	return "", false
}

// Material is a file attached to a lecture, identified by lecture and type.
// Re-uploading the same type replaces the previous material.
type Material struct {
	SchemaVersion int            `json:"schema_version"`
	LectureID     string         `json:"lecture_id"`
	Type          MaterialType   `json:"material_type"`
	Filename      string         `json:"filename,omitempty"`
	ContentType   string         `json:"content_type,omitempty"`
	Content       string         `json:"content,omitempty"`
	Blob          *blobstore.Ref `json:"blob,omitempty"`
	Size          int64          `json:"file_size"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// ID returns the material's document id.
func (m Material) ID() string { return MaterialID(m.LectureID, m.Type) }

// MaterialID builds a material document id from its composite identity.
func MaterialID(lectureID string, t MaterialType) string {
	return lectureID + "_" + string(t)
}

// AnalyticsRecord is one analysis result. Records are append-only; a
// re-analysis adds a new record.
type AnalyticsRecord struct {
	SchemaVersion int            `json:"schema_version"`
	ID            string         `json:"id"`
	LectureID     string         `json:"lecture_id"`
	AnalysisType  string         `json:"analysis_type"`
	Insights      map[string]any `json:"insights"`
	AIGenerated   bool           `json:"ai_generated"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Analysis bundles the documents produced by one analyze step.
type Analysis struct {
	Lecture    Lecture         `json:"lecture"`
	Transcript Material        `json:"transcript"`
	Record     AnalyticsRecord `json:"record"`
}

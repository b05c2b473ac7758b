package lecture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/lecturelens/internal/docstore"
)

// ErrUnsupportedSchema is returned for documents written by a newer version.
var ErrUnsupportedSchema = errors.New("unsupported document schema version")

// Repository maps the typed records onto a document backend.
type Repository struct {
	store docstore.Backend
}

func NewRepository(store docstore.Backend) *Repository {
	return &Repository{store: store}
}

// LectureFilter selects lectures. Results are ordered by date, oldest first
// unless Newest is set.
type LectureFilter struct {
	TeacherID  string
	CourseCode string
	Status     Status
	Newest     bool
	Limit      int
}

func (r *Repository) SaveLecture(ctx context.Context, l Lecture) error {
	if err := l.Validate(); err != nil {
		return err
	}
	return r.put(ctx, CollectionLectures, l.ID, l)
}

func (r *Repository) GetLecture(ctx context.Context, id string) (Lecture, error) {
	return get[Lecture](ctx, r.store, CollectionLectures, id)
}

func (r *Repository) ListLectures(ctx context.Context, f LectureFilter) ([]Lecture, error) {
	filter := map[string]any{}
	if f.TeacherID != "" {
		filter["teacher_id"] = f.TeacherID
	}
	if f.CourseCode != "" {
		filter["course_code"] = f.CourseCode
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	return list[Lecture](ctx, r.store, CollectionLectures, docstore.Query{
		Filter: filter,
		Sort:   []docstore.SortField{{Field: "date", Desc: f.Newest}, {Field: "created_at", Desc: f.Newest}},
		Limit:  f.Limit,
	})
}

// SetStatus patches a lecture's status and last_updated.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status, at time.Time) error {
	return r.store.Update(ctx, CollectionLectures, id, docstore.Document{
		"status":       string(status),
		"last_updated": at.UTC().Format(time.RFC3339Nano),
	})
}

func (r *Repository) SaveMaterial(ctx context.Context, m Material) error {
	return r.put(ctx, CollectionMaterials, m.ID(), m)
}

func (r *Repository) GetMaterial(ctx context.Context, lectureID string, t MaterialType) (Material, error) {
	return get[Material](ctx, r.store, CollectionMaterials, MaterialID(lectureID, t))
}

func (r *Repository) ListMaterials(ctx context.Context, lectureID string) ([]Material, error) {
	return list[Material](ctx, r.store, CollectionMaterials, docstore.Query{
		Filter: map[string]any{"lecture_id": lectureID},
	})
}

// AppendRecord stores a new analytics record, assigning an id if needed.
func (r *Repository) AppendRecord(ctx context.Context, rec AnalyticsRecord) (AnalyticsRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	if err := r.put(ctx, CollectionAnalytics, rec.ID, rec); err != nil {
		return AnalyticsRecord{}, err
	}
	return rec, nil
}

// ListRecords returns a lecture's analytics records, oldest first. An empty
// analysisType matches every type.
func (r *Repository) ListRecords(ctx context.Context, lectureID, analysisType string) ([]AnalyticsRecord, error) {
	filter := map[string]any{"lecture_id": lectureID}
	if analysisType != "" {
		filter["analysis_type"] = analysisType
	}
	return list[AnalyticsRecord](ctx, r.store, CollectionAnalytics, docstore.Query{
		Filter: filter,
		Sort:   []docstore.SortField{{Field: "created_at"}},
	})
}

func (r *Repository) put(ctx context.Context, collection, id string, v any) error {
	doc, err := docstore.Encode(v)
	if err != nil {
		return err
	}
	_, err = r.store.Create(ctx, collection, id, doc)
	return err
}

func get[T any](ctx context.Context, store docstore.Backend, collection, id string) (T, error) {
	var zero T
	doc, err := store.Get(ctx, collection, id)
	if err != nil {
		return zero, err
	}
	return decode[T](collection, doc)
}

func list[T any](ctx context.Context, store docstore.Backend, collection string, q docstore.Query) ([]T, error) {
	docs, err := store.List(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := decode[T](collection, d)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decode[T any](collection string, doc docstore.Document) (T, error) {
	var v T
	if ver, ok := doc["schema_version"].(float64); ok && int(ver) > SchemaVersion {
		return v, fmt.Errorf("%w: %s/%s has version %d", ErrUnsupportedSchema, collection, doc.ID(), int(ver))
	}
	if err := docstore.Decode(doc.Clone(), &v); err != nil {
		return v, fmt.Errorf("%s/%s: %w", collection, doc.ID(), err)
	}
	return v, nil
}

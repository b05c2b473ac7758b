package lecture

import (
	"context"
	"errors"
	"io"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/lecturelens/internal/blobstore"
	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/resilience"
	"github.com/kalambet/lecturelens/internal/storage"
)

// switchable fails every call with an unavailable error while down is set.
type switchable struct {
	docstore.Backend
	down atomic.Bool
}

func (s *switchable) err(op string) error {
	if s.down.Load() {
		return &docstore.UnavailableError{Backend: "test", Op: op, Err: errors.New("connection refused")}
	}
	return nil
}

func (s *switchable) Create(ctx context.Context, c, id string, d docstore.Document) (string, error) {
	if err := s.err("create"); err != nil {
		return "", err
	}
	return s.Backend.Create(ctx, c, id, d)
}

func (s *switchable) Get(ctx context.Context, c, id string) (docstore.Document, error) {
	if err := s.err("get"); err != nil {
		return nil, err
	}
	return s.Backend.Get(ctx, c, id)
}

func (s *switchable) List(ctx context.Context, c string, q docstore.Query) ([]docstore.Document, error) {
	if err := s.err("list"); err != nil {
		return nil, err
	}
	return s.Backend.List(ctx, c, q)
}

func (s *switchable) Update(ctx context.Context, c, id string, p docstore.Document) error {
	if err := s.err("update"); err != nil {
		return err
	}
	return s.Backend.Update(ctx, c, id, p)
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []storage.Job
}

func (q *fakeQueue) EnqueueJob(_ context.Context, job storage.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	svc    *Service
	local  *switchable
	remote *switchable
	ledger *storage.Store
	queue  *fakeQueue
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	mk := func() *switchable {
		s, err := docstore.NewLocalStore(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return &switchable{Backend: s}
	}
	ledger, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })

	f := &fixture{local: mk(), remote: mk(), ledger: ledger, queue: &fakeQueue{}}
	coord := resilience.New(f.local, f.remote, ledger)
	opts = append([]ServiceOption{WithJobQueue(f.queue)}, opts...)
	f.svc = NewService(NewRepository(coord), newTestBuilder(), opts...)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func upload(t *testing.T, svc *Service) Analysis {
	t.Helper()
	a, err := svc.Upload(context.Background(), UploadRequest{
		Draft:           validDraft(),
		Transcript:      engagingTranscript,
		DurationMinutes: 45,
		Filename:        "week1.txt",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return a
}

func assertStored(t *testing.T, svc *Service, a Analysis) {
	t.Helper()
	ctx := context.Background()
	got, err := svc.Get(ctx, a.Lecture.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, a.Lecture) {
		t.Errorf("lecture round trip:\n got %+v\nwant %+v", got, a.Lecture)
	}
	m, err := svc.Repository().GetMaterial(ctx, a.Lecture.ID, MaterialTranscript)
	if err != nil {
		t.Fatalf("GetMaterial: %v", err)
	}
	if !reflect.DeepEqual(m, a.Transcript) {
		t.Errorf("transcript round trip:\n got %+v\nwant %+v", m, a.Transcript)
	}
	recs, err := svc.Records(ctx, a.Lecture.ID, AnalysisTextMetrics)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(recs) == 0 || !reflect.DeepEqual(recs[len(recs)-1], a.Record) {
		t.Errorf("record round trip: got %+v, want %+v", recs, a.Record)
	}
}

func TestUploadRoundTrip(t *testing.T) {
	f := newFixture(t)
	a := upload(t, f.svc)
	assertStored(t, f.svc, a)

	if a.Transcript.Filename != "week1.txt" {
		t.Errorf("Filename = %q", a.Transcript.Filename)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].Type != SummaryJobType || f.queue.jobs[0].LectureID != a.Lecture.ID {
		t.Errorf("jobs = %+v", f.queue.jobs)
	}
	n, _ := f.ledger.CountPending(context.Background())
	if n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}
}

func TestUploadRemoteDown(t *testing.T) {
	f := newFixture(t)
	f.remote.down.Store(true)

	a := upload(t, f.svc)
	assertStored(t, f.svc, a)

	n, err := f.ledger.CountPending(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("pending = %d, want 3 (lecture, transcript, record)", n)
	}
}

func TestUploadBothDown(t *testing.T) {
	f := newFixture(t)
	f.remote.down.Store(true)
	f.local.down.Store(true)

	_, err := f.svc.Upload(context.Background(), UploadRequest{Draft: validDraft(), Transcript: engagingTranscript})
	var nse *NotStoredError
	if !errors.As(err, &nse) {
		t.Fatalf("err = %v, want *NotStoredError", err)
	}
	if nse.Analysis.Lecture.ReadabilityScore == nil {
		t.Error("NotStoredError must carry the built analysis")
	}
	if !resilience.IsPersistence(err) {
		t.Errorf("err = %v, want a persistence error inside", err)
	}
	if len(f.queue.jobs) != 0 {
		t.Error("no summary job may be queued for an unstored lecture")
	}
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Upload(ctx, UploadRequest{Draft: validDraft(), Transcript: ""}); err == nil {
		t.Fatal("expected error for empty transcript")
	}
	d := validDraft()
	d.Title = ""
	_, err := f.svc.Upload(ctx, UploadRequest{Draft: d, Transcript: engagingTranscript})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}

	got, err := f.svc.List(ctx, LectureFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("lectures = %d, want none", len(got))
	}
}

func TestUploadInfiniteDurationStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadRequest{
		Draft:           validDraft(),
		Transcript:      engagingTranscript,
		DurationMinutes: math.Inf(1),
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	var nse *NotStoredError
	if errors.As(err, &nse) {
		t.Fatal("bad input must not surface as a storage failure")
	}

	id := DeriveID("t-100", "Cell Biology", "2025-03-03")
	if mats, _ := f.svc.Repository().ListMaterials(ctx, id); len(mats) != 0 {
		t.Errorf("materials = %d, want none", len(mats))
	}
	if recs, _ := f.svc.Repository().ListRecords(ctx, id, ""); len(recs) != 0 {
		t.Errorf("records = %d, want none", len(recs))
	}
}

func TestUploadCancelledBeforePersist(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Upload(ctx, UploadRequest{Draft: validDraft(), Transcript: engagingTranscript})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	got, _ := f.svc.List(context.Background(), LectureFilter{})
	if len(got) != 0 {
		t.Errorf("lectures = %d, want none", len(got))
	}
	mats, _ := f.svc.Repository().ListMaterials(context.Background(), DeriveID("t-100", "Cell Biology", "2025-03-03"))
	if len(mats) != 0 {
		t.Errorf("materials = %d, want none", len(mats))
	}
}

func TestReuploadKeepsIdentity(t *testing.T) {
	f := newFixture(t)
	first := upload(t, f.svc)

	f.svc.builder.now = func() time.Time { return fixedNow.Add(time.Hour) }
	second, err := f.svc.Upload(context.Background(), UploadRequest{
		Draft:      validDraft(),
		Transcript: "A completely new take. Does it change anything?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Lecture.ID != first.Lecture.ID {
		t.Fatalf("re-upload changed id")
	}
	if !second.Lecture.CreatedAt.Equal(first.Lecture.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", second.Lecture.CreatedAt, first.Lecture.CreatedAt)
	}
	if !second.Transcript.CreatedAt.Equal(first.Transcript.CreatedAt) {
		t.Errorf("transcript CreatedAt = %v, want %v", second.Transcript.CreatedAt, first.Transcript.CreatedAt)
	}
	if !second.Transcript.LastUpdated.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("transcript LastUpdated = %v", second.Transcript.LastUpdated)
	}
	assertStored(t, f.svc, second)

	lectures, _ := f.svc.List(context.Background(), LectureFilter{})
	if len(lectures) != 1 {
		t.Errorf("lectures = %d, want 1", len(lectures))
	}
	recs, _ := f.svc.Records(context.Background(), first.Lecture.ID, "")
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2 (append-only)", len(recs))
	}
}

func TestReanalyzeAndArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := upload(t, f.svc)

	r, err := f.svc.Reanalyze(ctx, a.Lecture.ID, "Short one. Short two.", 0)
	if err != nil {
		t.Fatalf("Reanalyze: %v", err)
	}
	if r.Lecture.WordCount != 4 || r.Lecture.DurationMinutes != 45 {
		t.Errorf("lecture = %+v", r.Lecture)
	}
	if r.Transcript.Filename != "week1.txt" {
		t.Errorf("transcript filename lost: %q", r.Transcript.Filename)
	}
	assertStored(t, f.svc, r)

	l, err := f.svc.Archive(ctx, a.Lecture.ID)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if l.Status != StatusArchived || l.ReadabilityScore == nil {
		t.Errorf("archived = %+v", l)
	}
	got, _ := f.svc.Get(ctx, a.Lecture.ID)
	if got.Status != StatusArchived {
		t.Errorf("stored status = %q", got.Status)
	}

	if _, err := f.svc.Reanalyze(ctx, a.Lecture.ID, engagingTranscript, 0); err == nil {
		t.Error("expected re-analysis of archived lecture to fail")
	}
	if _, err := f.svc.Reanalyze(ctx, "missing", engagingTranscript, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddMaterial(t *testing.T) {
	blobs, err := blobstore.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, WithBlobStore(blobs))
	ctx := context.Background()
	a := upload(t, f.svc)

	slides, err := f.svc.AddMaterial(ctx, a.Lecture.ID, MaterialUpload{
		Type: MaterialSlides, Filename: "slides.md", Data: []byte("# Cells\n\nMembranes and organelles."),
	})
	if err != nil {
		t.Fatalf("AddMaterial slides: %v", err)
	}
	if slides.Blob != nil || slides.Content == "" {
		t.Errorf("slides should be inline: %+v", slides)
	}

	media, err := f.svc.AddMaterial(ctx, a.Lecture.ID, MaterialUpload{
		Type: MaterialMedia, Filename: "rec.MP4", ContentType: "video/mp4", Data: []byte{0, 1, 2, 3},
	})
	if err != nil {
		t.Fatalf("AddMaterial media: %v", err)
	}
	if media.Blob == nil || media.Blob.Key != a.Lecture.ID+"/media.mp4" || media.Size != 4 {
		t.Errorf("media = %+v", media)
	}
	_, rc, err := f.svc.OpenMaterial(ctx, a.Lecture.ID, MaterialMedia)
	if err != nil {
		t.Fatalf("OpenMaterial: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if !reflect.DeepEqual(data, []byte{0, 1, 2, 3}) {
		t.Errorf("media bytes = %v", data)
	}

	tr, err := f.svc.AddMaterial(ctx, a.Lecture.ID, MaterialUpload{
		Type: MaterialTranscript, Filename: "week1-v2.txt", Data: []byte("Only three words."),
	})
	if err != nil {
		t.Fatalf("AddMaterial transcript: %v", err)
	}
	if tr.Filename != "week1-v2.txt" {
		t.Errorf("transcript filename = %q", tr.Filename)
	}
	l, _ := f.svc.Get(ctx, a.Lecture.ID)
	if l.WordCount != 3 {
		t.Errorf("transcript upload did not re-analyze: word_count = %d", l.WordCount)
	}

	mats, err := f.svc.Materials(ctx, a.Lecture.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mats) != 3 {
		t.Errorf("materials = %d, want 3", len(mats))
	}
}

func TestAddMaterialRescoresTopicCoverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := upload(t, f.svc)

	if _, err := f.svc.AddMaterial(ctx, a.Lecture.ID, MaterialUpload{
		Type: MaterialSlides, Filename: "slides.md", Data: []byte("# Cells\n\nMembranes and organelles."),
	}); err != nil {
		t.Fatal(err)
	}
	recs, err := f.svc.Records(ctx, a.Lecture.ID, AnalysisTopicCoverage)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("topic_coverage records = %d, want 1", len(recs))
	}
	var ci CoverageInsights
	if err := docstore.Decode(recs[0].Insights, &ci); err != nil {
		t.Fatal(err)
	}
	if ci.TopicCoverage.Covered != 2 {
		t.Errorf("coverage = %+v", ci.TopicCoverage)
	}

	// Text metrics are untouched by the rescore.
	if tm, _ := f.svc.Records(ctx, a.Lecture.ID, AnalysisTextMetrics); len(tm) != 1 {
		t.Errorf("text_metrics records = %d, want 1", len(tm))
	}

	if _, err := f.svc.Archive(ctx, a.Lecture.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AddMaterial(ctx, a.Lecture.ID, MaterialUpload{
		Type: MaterialSupplementary, Filename: "notes.txt", Data: []byte("More about cells."),
	}); err != nil {
		t.Fatal(err)
	}
	if recs, _ := f.svc.Records(ctx, a.Lecture.ID, AnalysisTopicCoverage); len(recs) != 1 {
		t.Errorf("archived lecture was rescored: %d records", len(recs))
	}
}

func TestAddMaterialWithoutBlobStore(t *testing.T) {
	f := newFixture(t)
	a := upload(t, f.svc)
	_, err := f.svc.AddMaterial(context.Background(), a.Lecture.ID, MaterialUpload{
		Type: MaterialMedia, Filename: "rec.mp4", Data: []byte{1},
	})
	if !errors.Is(err, ErrNoBlobStore) {
		t.Errorf("err = %v, want ErrNoBlobStore", err)
	}
	_, err = f.svc.AddMaterial(context.Background(), "missing", MaterialUpload{Type: MaterialSlides, Filename: "a.txt", Data: []byte("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

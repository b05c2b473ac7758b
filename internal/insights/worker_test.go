package insights

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/lecturelens/internal/docstore"
	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/ollama"
	"github.com/kalambet/lecturelens/internal/storage"
)

type mockChatter struct {
	mu     sync.Mutex
	prompt string
	reply  string
	err    error
}

func (m *mockChatter) Chat(_ context.Context, _ string, msgs []ollama.Message, _ *ollama.Schema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompt = msgs[len(msgs)-1].Content
	return m.reply, m.err
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, jobs *storage.Store) *lecture.Repository {
	t.Helper()
	store, err := docstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	repo := lecture.NewRepository(store)
	svc := lecture.NewService(repo, lecture.NewBuilder(), lecture.WithJobQueue(jobs))
	_, err = svc.Upload(context.Background(), lecture.UploadRequest{
		Draft: lecture.Draft{
			LectureID: "lec-1", Title: "Photosynthesis", TeacherID: "t1", CourseCode: "BIO101",
			Date: "2025-02-01", Topics: []string{"light reactions"},
		},
		Transcript: "Today we look at light. Can you tell me what chlorophyll does?",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return repo
}

func TestRunOnceStoresSummary(t *testing.T) {
	jobs := openTestStore(t)
	repo := seed(t, jobs)
	llm := &mockChatter{reply: `{"summary":"Covers light reactions.","strengths":["asks questions"],"suggestions":[],"engagement_level":"high"}`}

	w := NewWorker(jobs, repo, llm, "llama3.2", 0)
	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}

	if !strings.Contains(llm.prompt, "Photosynthesis") || !strings.Contains(llm.prompt, "chlorophyll") {
		t.Errorf("prompt missing lecture context: %q", llm.prompt)
	}
	recs, err := repo.ListRecords(context.Background(), "lec-1", lecture.AnalysisAISummary)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if !r.AIGenerated || r.Insights["summary"] != "Covers light reactions." || r.Insights["model"] != "llama3.2" {
		t.Errorf("record = %+v", r)
	}

	done, err = w.RunOnce(context.Background())
	if done || err != nil {
		t.Errorf("second RunOnce = %v, %v; want idle", done, err)
	}
}

func TestRunOncePlainReply(t *testing.T) {
	jobs := openTestStore(t)
	repo := seed(t, jobs)
	w := NewWorker(jobs, repo, &mockChatter{reply: "  Not JSON at all.  "}, "m", 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	recs, _ := repo.ListRecords(context.Background(), "lec-1", lecture.AnalysisAISummary)
	if len(recs) != 1 || recs[0].Insights["summary"] != "Not JSON at all." {
		t.Errorf("records = %+v", recs)
	}
}

func TestRunOnceFailureReschedules(t *testing.T) {
	jobs := openTestStore(t)
	repo := seed(t, jobs)
	w := NewWorker(jobs, repo, &mockChatter{err: errors.New("connection refused")}, "m", 0)

	done, err := w.RunOnce(context.Background())
	if err != nil || !done {
		t.Fatalf("RunOnce = %v, %v", done, err)
	}
	counts, err := jobs.JobCounts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts["pending"] != 1 {
		t.Errorf("counts = %v, want the job back in pending", counts)
	}
	recs, _ := repo.ListRecords(context.Background(), "lec-1", lecture.AnalysisAISummary)
	if len(recs) != 0 {
		t.Errorf("no summary may be stored on failure, got %d", len(recs))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	jobs := openTestStore(t)
	w := NewWorker(jobs, nil, &mockChatter{}, "m", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	got := truncate("héllo", 2)
	if !strings.HasPrefix(got, "h\n") {
		t.Errorf("truncate split a rune: %q", got)
	}
}

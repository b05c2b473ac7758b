// Package insights writes AI-generated lecture summaries from queued jobs.
// Heuristic metrics never depend on it.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/metrics"
	"github.com/kalambet/lecturelens/internal/ollama"
	"github.com/kalambet/lecturelens/internal/storage"
)

// JobStore abstracts the job queue operations the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Chatter sends a prompt to a language model.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, schema *ollama.Schema) (string, error)
}

// maxTranscriptChars bounds the transcript sent to the model.
const maxTranscriptChars = 12000

const systemPrompt = `You review university lecture transcripts for teaching effectiveness.
Answer in JSON. Be specific and brief. Refer to what the lecturer actually said.`

var summarySchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"summary":          {Type: "string", Description: "two or three sentence summary of the lecture content"},
		"strengths":        {Type: "array", Items: &ollama.SchemaProperty{Type: "string"}},
		"suggestions":      {Type: "array", Items: &ollama.SchemaProperty{Type: "string"}},
		"engagement_level": {Type: "string", Description: "low, medium or high"},
	},
	Required: []string{"summary", "strengths", "suggestions", "engagement_level"},
}

// Worker processes lecture_summary jobs from the SQLite job queue.
type Worker struct {
	jobs   JobStore
	repo   *lecture.Repository
	llm    Chatter
	model  string
	poll   time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 2s.
func NewWorker(jobs JobStore, repo *lecture.Repository, llm Chatter, model string, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		jobs:   jobs,
		repo:   repo,
		llm:    llm,
		model:  model,
		poll:   pollInterval,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("insights iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimNextJob(ctx, []string{lecture.SummaryJobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, job); err != nil {
		metrics.InsightJobs.WithLabelValues("failed").Inc()
		w.logger.Warn("summary job failed", "job_id", job.ID, "lecture_id", job.LectureID, "attempt", job.Attempts+1, "error", err)
		if failErr := w.jobs.FailJob(context.WithoutCancel(ctx), job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	metrics.InsightJobs.WithLabelValues("completed").Inc()
	if err := w.jobs.CompleteJob(context.WithoutCancel(ctx), job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *storage.Job) error {
	l, err := w.repo.GetLecture(ctx, job.LectureID)
	if err != nil {
		return fmt.Errorf("loading lecture %s: %w", job.LectureID, err)
	}
	tr, err := w.repo.GetMaterial(ctx, l.ID, lecture.MaterialTranscript)
	if err != nil {
		return fmt.Errorf("loading transcript: %w", err)
	}

	reply, err := w.llm.Chat(ctx, w.model, []ollama.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt(l, tr.Content)},
	}, summarySchema)
	if err != nil {
		return fmt.Errorf("asking %s: %w", w.model, err)
	}

	insights := map[string]any{}
	if err := json.Unmarshal([]byte(reply), &insights); err != nil || insights["summary"] == nil {
		insights = map[string]any{"summary": strings.TrimSpace(reply)}
	}
	insights["model"] = w.model

	rec, err := w.repo.AppendRecord(context.WithoutCancel(ctx), lecture.AnalyticsRecord{
		LectureID:    l.ID,
		AnalysisType: lecture.AnalysisAISummary,
		Insights:     insights,
		AIGenerated:  true,
		CreatedAt:    w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	w.logger.Info("lecture summary stored", "lecture_id", l.ID, "record_id", rec.ID)
	return nil
}

func prompt(l lecture.Lecture, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lecture: %s\nCourse: %s\nDate: %s\n", l.Title, l.CourseCode, l.Date)
	if len(l.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(l.Topics, ", "))
	}
	if len(l.Objectives) > 0 {
		fmt.Fprintf(&b, "Learning objectives: %s\n", strings.Join(l.Objectives, "; "))
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(truncate(transcript, maxTranscriptChars))
	return b.String()
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[transcript truncated]"
}

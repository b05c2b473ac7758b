// Package api exposes lectures, aggregates and storage administration over
// HTTP and as MCP tools.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/lecturelens/internal/aggregate"
	"github.com/kalambet/lecturelens/internal/convert"
	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/resilience"
)

const (
	maxJSONBodySize   = 10 << 20
	maxUploadBodySize = 64 << 20
)

// StorageAdmin reports and repairs the storage routing state.
type StorageAdmin interface {
	Status(ctx context.Context) (resilience.Status, error)
	Reconcile(ctx context.Context) (resilience.ReconcileReport, error)
}

// JobCounter reports background job counts by status.
type JobCounter interface {
	JobCounts(ctx context.Context) (map[string]int, error)
}

type Deps struct {
	Lectures   *lecture.Service
	Aggregates *aggregate.Service
	Storage    StorageAdmin
	Jobs       JobCounter // optional
	Token      string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/lectures", handleUpload(deps))
		r.Get("/lectures", handleListLectures(deps))
		r.Get("/lectures/{id}", handleGetLecture(deps))
		r.Post("/lectures/{id}/reanalyze", handleReanalyze(deps))
		r.Post("/lectures/{id}/archive", handleArchive(deps))
		r.Get("/lectures/{id}/materials", handleListMaterials(deps))
		r.Post("/lectures/{id}/materials", handleAddMaterial(deps))
		r.Get("/lectures/{id}/materials/{type}/content", handleMaterialContent(deps))
		r.Get("/lectures/{id}/analytics", handleAnalytics(deps))

		r.Get("/teachers/{id}/summary", handleTeacherSummary(deps))
		r.Get("/students/lectures", handleStudentLectures(deps))

		r.Get("/admin/overview", handleOverview(deps))
		r.Get("/admin/storage", handleStorageStatus(deps))
		r.Post("/admin/reconcile", handleReconcile(deps))
		r.Get("/admin/jobs", handleJobCounts(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// uploadBody is the JSON form of POST /lectures.
type uploadBody struct {
	lecture.Draft
	Transcript      string  `json:"transcript"`
	DurationMinutes float64 `json:"duration_minutes"`
	Filename        string  `json:"filename"`
}

// UploadResponse is returned by POST /lectures and re-analysis.
type UploadResponse struct {
	LectureID string                  `json:"lecture_id"`
	Status    lecture.Status          `json:"status"`
	Lecture   lecture.Lecture         `json:"lecture"`
	Record    lecture.AnalyticsRecord `json:"record"`
}

func newUploadResponse(a lecture.Analysis) UploadResponse {
	return UploadResponse{LectureID: a.Lecture.ID, Status: a.Lecture.Status, Lecture: a.Lecture, Record: a.Record}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			req lecture.UploadRequest
			err error
		)
		if isMultipart(r) {
			req, err = parseMultipartUpload(w, r)
		} else {
			req, err = parseJSONUpload(w, r)
		}
		if err != nil {
			writeError(w, err)
			return
		}

		a, err := deps.Lectures.Upload(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newUploadResponse(a))
	}
}

func parseJSONUpload(w http.ResponseWriter, r *http.Request) (lecture.UploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer r.Body.Close()

	var body uploadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return lecture.UploadRequest{}, badRequest("invalid request body: " + err.Error())
	}
	return lecture.UploadRequest{
		Draft:           body.Draft,
		Transcript:      body.Transcript,
		DurationMinutes: body.DurationMinutes,
		Filename:        body.Filename,
	}, nil
}

// parseMultipartUpload reads metadata from form fields and the transcript
// from the "file" part, converted to plain text. Topics and objectives are
// repeated fields or comma-separated.
func parseMultipartUpload(w http.ResponseWriter, r *http.Request) (lecture.UploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return lecture.UploadRequest{}, badRequest("invalid multipart form: " + err.Error())
	}
	data, filename, contentType, err := readFormFile(r, "file")
	if err != nil {
		return lecture.UploadRequest{}, err
	}
	text, err := convert.ToText(filename, contentType, data)
	if err != nil {
		return lecture.UploadRequest{}, err
	}

	req := lecture.UploadRequest{
		Draft: lecture.Draft{
			LectureID:  r.FormValue("lecture_id"),
			Title:      r.FormValue("title"),
			TeacherID:  r.FormValue("teacher_id"),
			CourseCode: r.FormValue("course_code"),
			Date:       r.FormValue("date"),
			Topics:     formList(r, "topics"),
			Objectives: formList(r, "learning_objectives"),
		},
		Transcript: text,
		Filename:   filename,
	}
	if s := r.FormValue("duration_minutes"); s != "" {
		d, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
			return lecture.UploadRequest{}, badRequest("duration_minutes must be a finite number")
		}
		req.DurationMinutes = d
	}
	return req, nil
}

func handleListLectures(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := lecture.LectureFilter{
			TeacherID:  q.Get("teacher"),
			CourseCode: q.Get("course"),
			Newest:     q.Get("order") != "oldest",
			Limit:      parseIntParam(r, "limit", 50, 500),
		}
		if s := q.Get("status"); s != "" {
			st, ok := lecture.ParseStatus(s)
			if !ok {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", s)
				return
			}
			f.Status = st
		}
		lectures, err := deps.Lectures.List(r.Context(), f)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lectures)
	}
}

func handleGetLecture(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Lectures.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

type reanalyzeBody struct {
	Transcript      string  `json:"transcript"`
	DurationMinutes float64 `json:"duration_minutes"`
}

func handleReanalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var body reanalyzeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		a, err := deps.Lectures.Reanalyze(r.Context(), chi.URLParam(r, "id"), body.Transcript, body.DurationMinutes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newUploadResponse(a))
	}
}

func handleArchive(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := deps.Lectures.Archive(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleListMaterials(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mats, err := deps.Lectures.Materials(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		// Inline content can be large; the listing only describes materials.
		for i := range mats {
			mats[i].Content = ""
		}
		writeJSON(w, http.StatusOK, mats)
	}
}

func handleAddMaterial(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		mt, ok := lecture.ParseMaterialType(r.FormValue("type"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be one of transcript, slides, supplementary, media")
			return
		}
		data, filename, contentType, err := readFormFile(r, "file")
		if err != nil {
			writeError(w, err)
			return
		}
		m, err := deps.Lectures.AddMaterial(r.Context(), chi.URLParam(r, "id"), lecture.MaterialUpload{
			Type:        mt,
			Filename:    filename,
			ContentType: contentType,
			Data:        data,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		m.Content = ""
		writeJSON(w, http.StatusCreated, m)
	}
}

func handleMaterialContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, ok := lecture.ParseMaterialType(chi.URLParam(r, "type"))
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown material type")
			return
		}
		m, rc, err := deps.Lectures.OpenMaterial(r.Context(), chi.URLParam(r, "id"), mt)
		if err != nil {
			writeError(w, err)
			return
		}
		defer rc.Close()

		switch {
		case m.Blob == nil:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		case m.ContentType != "":
			w.Header().Set("Content-Type", m.ContentType)
		default:
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		if _, err := io.Copy(w, rc); err != nil {
			slog.Warn("streaming material failed", "lecture_id", m.LectureID, "material_type", mt, "error", err)
		}
	}
}

func handleAnalytics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Lectures.Records(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func handleTeacherSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Aggregates.Teacher(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func handleStudentLectures(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lectures, err := deps.Aggregates.StudentLectures(r.Context(), formListValues(r.URL.Query()["course"]))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lectures)
	}
}

func handleOverview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ov, err := deps.Aggregates.Overview(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

func handleStorageStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Storage.Status(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleJobCounts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts := map[string]int{}
		if deps.Jobs != nil {
			var err error
			if counts, err = deps.Jobs.JobCounts(r.Context()); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleReconcile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Storage.Reconcile(r.Context())
		if errors.Is(err, resilience.ErrRemoteNotConfigured) {
			httpError(w, http.StatusConflict, "conflict", "no remote store configured; running local-only")
			return
		}
		if err != nil {
			// A partial pass still reports what was pushed.
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"report": report,
				"error":  map[string]any{"message": err.Error(), "type": "storage_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func badRequest(msg string) error {
	return &lecture.ValidationError{Problems: []lecture.FieldError{{Field: "body", Rule: "format", Message: msg}}}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func readFormFile(r *http.Request, field string) ([]byte, string, string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, "", "", &lecture.ValidationError{Problems: []lecture.FieldError{{Field: field, Rule: "required", Message: "is required"}}}
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", "", err
	}
	return data, hdr.Filename, hdr.Header.Get("Content-Type"), nil
}

func formList(r *http.Request, key string) []string {
	return formListValues(r.MultipartForm.Value[key])
}

// formListValues splits comma-separated entries and drops empty ones.
func formListValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

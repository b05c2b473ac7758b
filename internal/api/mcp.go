package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/lecturelens/internal/aggregate"
	"github.com/kalambet/lecturelens/internal/lecture"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Lectures   *lecture.Service
	Aggregates *aggregate.Service
	Version    string
}

// NewMCPServer creates an MCP server with the lecture tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"lecturelens",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lecturelens analyzes lecture transcripts and reports readability, engagement and teaching trends."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("analyze_transcript",
			mcp.WithDescription("Analyze a lecture transcript, store the lecture and return its metrics."),
			mcp.WithString("title", mcp.Description("Lecture title"), mcp.Required()),
			mcp.WithString("teacher_id", mcp.Description("Teacher identifier"), mcp.Required()),
			mcp.WithString("course_code", mcp.Description("Course code, e.g. BIO101"), mcp.Required()),
			mcp.WithString("date", mcp.Description("Lecture date, YYYY-MM-DD"), mcp.Required()),
			mcp.WithString("transcript", mcp.Description("Plain-text transcript"), mcp.Required()),
			mcp.WithNumber("duration_minutes", mcp.Description("Lecture length in minutes, enables pacing")),
			mcp.WithArray("topics", mcp.Description("Topics covered"), mcp.WithStringItems()),
		),
		mcpAnalyzeTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("get_lecture",
			mcp.WithDescription("Return a stored lecture and its latest text metrics."),
			mcp.WithString("lecture_id", mcp.Description("Lecture id"), mcp.Required()),
		),
		mcpGetLecture(deps),
	)

	s.AddTool(
		mcp.NewTool("teacher_summary",
			mcp.WithDescription("Summarize readability and engagement across a teacher's lectures."),
			mcp.WithString("teacher_id", mcp.Description("Teacher identifier"), mcp.Required()),
		),
		mcpTeacherSummary(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"lectures://recent",
			"Recent Lectures",
			mcp.WithResourceDescription("The 10 most recent lectures with their scores"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpAnalyzeTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		transcript, err := req.RequireString("transcript")
		if err != nil {
			return mcpError("transcript is required"), nil
		}
		a, err := deps.Lectures.Upload(ctx, lecture.UploadRequest{
			Draft: lecture.Draft{
				Title:      req.GetString("title", ""),
				TeacherID:  req.GetString("teacher_id", ""),
				CourseCode: req.GetString("course_code", ""),
				Date:       req.GetString("date", ""),
				Topics:     req.GetStringSlice("topics", nil),
			},
			Transcript:      transcript,
			DurationMinutes: req.GetFloat("duration_minutes", 0),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(newUploadResponse(a))
	}
}

type lectureWithMetrics struct {
	Lecture lecture.Lecture          `json:"lecture"`
	Metrics *lecture.AnalyticsRecord `json:"metrics,omitempty"`
}

func mcpGetLecture(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("lecture_id")
		if err != nil {
			return mcpError("lecture_id is required"), nil
		}
		l, err := deps.Lectures.Get(ctx, id)
		if errors.Is(err, lecture.ErrNotFound) {
			return mcpError(fmt.Sprintf("lecture %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load lecture: %v", err)), nil
		}
		out := lectureWithMetrics{Lecture: l}
		recs, err := deps.Lectures.Records(ctx, id, lecture.AnalysisTextMetrics)
		if err == nil && len(recs) > 0 {
			out.Metrics = &recs[len(recs)-1]
		}
		return mcpJSON(out)
	}
}

func mcpTeacherSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("teacher_id")
		if err != nil {
			return mcpError("teacher_id is required"), nil
		}
		sum, err := deps.Aggregates.Teacher(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to summarize: %v", err)), nil
		}
		return mcpJSON(sum)
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		lectures, err := deps.Lectures.List(ctx, lecture.LectureFilter{Newest: true, Limit: 10})
		if err != nil {
			return nil, fmt.Errorf("failed to list lectures: %w", err)
		}

		type recent struct {
			ID          string   `json:"lecture_id"`
			Title       string   `json:"title"`
			TeacherID   string   `json:"teacher_id"`
			Date        string   `json:"date"`
			Status      string   `json:"status"`
			Readability *float64 `json:"readability_score"`
			Engagement  *float64 `json:"engagement_score"`
		}
		out := make([]recent, len(lectures))
		for i, l := range lectures {
			out[i] = recent{l.ID, l.Title, l.TeacherID, l.Date, string(l.Status), l.ReadabilityScore, l.EngagementScore}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal lectures: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

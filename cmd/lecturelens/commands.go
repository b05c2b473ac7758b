package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/lecturelens/internal/aggregate"
	"github.com/kalambet/lecturelens/internal/config"
	"github.com/kalambet/lecturelens/internal/convert"
	"github.com/kalambet/lecturelens/internal/lecture"
	"github.com/kalambet/lecturelens/internal/resilience"
	"github.com/kalambet/lecturelens/internal/textmetrics"
)

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Compute transcript metrics for a local file",
	Long: `Compute transcript metrics for a local file (txt, md, vtt, srt, pdf, html, docx).

Without --save nothing is stored. With --save the lecture is built and
persisted directly through the configured storage, without a running server.

Examples:
  lecturelens analyze ./week1.txt --duration 50
  lecturelens analyze ./week1.pdf --save --title "Cell Biology" --teacher t-100 --course BIO101 --date 2025-03-03`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, err := durationFlag(cmd)
		if err != nil {
			return err
		}
		save, _ := cmd.Flags().GetBool("save")

		text, err := readTranscript(args[0])
		if err != nil {
			return err
		}

		if !save {
			m, err := textmetrics.Analyze(text, duration)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), m)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context(), cfg, newLogger(cfg.Log.Level))
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.lectures.Upload(cmd.Context(), lecture.UploadRequest{
			Draft:           draftFromFlags(cmd),
			Transcript:      text,
			DurationMinutes: duration,
			Filename:        filepath.Base(args[0]),
		})
		if err != nil {
			return err
		}
		printSuccess("Stored lecture %s (%s)", res.Lecture.ID, res.Lecture.Status)
		return writeJSON(cmd.OutOrStdout(), res.Record)
	},
}

func init() {
	analyzeCmd.Flags().Float64("duration", 0, "lecture duration in minutes (enables pacing)")
	analyzeCmd.Flags().Bool("save", false, "persist the lecture and its analytics")
	addDraftFlags(analyzeCmd)
}

// readTranscript loads a local file and converts it to plain text.
func readTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return convert.ToText(filepath.Base(path), "", data)
}

func addDraftFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "explicit lecture id (default: derived from teacher, title and date)")
	cmd.Flags().String("title", "", "lecture title")
	cmd.Flags().String("teacher", "", "teacher id")
	cmd.Flags().String("course", "", "course code")
	cmd.Flags().String("date", "", "lecture date (YYYY-MM-DD)")
	cmd.Flags().String("topics", "", "comma-separated topics")
	cmd.Flags().String("objectives", "", "comma-separated learning objectives")
}

// durationFlag reads --duration, which pflag happily parses from "Inf" or "NaN".
func durationFlag(cmd *cobra.Command) (float64, error) {
	d, _ := cmd.Flags().GetFloat64("duration")
	if err := lecture.CheckDuration(d); err != nil {
		return 0, err
	}
	return d, nil
}

func draftFromFlags(cmd *cobra.Command) lecture.Draft {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return lecture.Draft{
		LectureID:  get("id"),
		Title:      get("title"),
		TeacherID:  get("teacher"),
		CourseCode: get("course"),
		Date:       get("date"),
		Topics:     splitList(get("topics")),
		Objectives: splitList(get("objectives")),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a transcript file to the running server",
	Long: `Upload a transcript file to the running server for analysis.

Examples:
  lecturelens upload ./week1.docx --title "Cell Biology" --teacher t-100 --course BIO101 --date 2025-03-03
  lecturelens upload ./week2.txt --title "Membranes" --teacher t-100 --course BIO101 --date 2025-03-10 --duration 45`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		duration, err := durationFlag(cmd)
		if err != nil {
			return err
		}

		d := draftFromFlags(cmd)
		fields := map[string]string{
			"lecture_id":          d.LectureID,
			"title":               d.Title,
			"teacher_id":          d.TeacherID,
			"course_code":         d.CourseCode,
			"date":                d.Date,
			"topics":              strings.Join(d.Topics, ","),
			"learning_objectives": strings.Join(d.Objectives, ","),
		}
		if duration > 0 {
			fields["duration_minutes"] = strconv.FormatFloat(duration, 'f', -1, 64)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.postFile(cmd.Context(), "/lectures", fields, filepath.Base(args[0]), data)
		if err != nil {
			return err
		}

		var result struct {
			LectureID string          `json:"lecture_id"`
			Status    lecture.Status  `json:"status"`
			Lecture   lecture.Lecture `json:"lecture"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Uploaded lecture %s (%s)", result.LectureID, result.Status)
		printStatus("Words", "%d", result.Lecture.WordCount)
		printStatus("Readability", "%s", formatScore(result.Lecture.ReadabilityScore))
		printStatus("Engagement", "%s", formatScore(result.Lecture.EngagementScore))
		return nil
	},
}

func init() {
	uploadCmd.Flags().Float64("duration", 0, "lecture duration in minutes")
	addDraftFlags(uploadCmd)
}

// --- lectures ---

var lecturesCmd = &cobra.Command{
	Use:   "lectures",
	Short: "List or inspect lectures",
}

var lecturesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List lectures",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		for _, name := range []string{"teacher", "course", "status"} {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				q.Set(name, v)
			}
		}
		if oldest, _ := cmd.Flags().GetBool("oldest"); oldest {
			q.Set("order", "oldest")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", strconv.Itoa(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/lectures?"+q.Encode())
		if err != nil {
			return err
		}

		var lectures []lecture.Lecture
		if err := decodeJSON(resp, &lectures); err != nil {
			return err
		}

		if len(lectures) == 0 {
			fmt.Println("No lectures found.")
			return nil
		}

		for _, l := range lectures {
			fmt.Printf("%s  %s  %-8s  %-9s  R %5s  E %5s  %s\n",
				colorize(colorCyan, l.ID),
				l.Date,
				l.CourseCode,
				l.Status,
				formatScore(l.ReadabilityScore),
				formatScore(l.EngagementScore),
				l.Title,
			)
		}
		return nil
	},
}

var lecturesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a lecture and its analytics records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		id := url.PathEscape(args[0])
		resp, err := client.get(cmd.Context(), "/lectures/"+id)
		if err != nil {
			return err
		}
		var l any
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}

		resp, err = client.get(cmd.Context(), "/lectures/"+id+"/analytics")
		if err != nil {
			return err
		}
		var records any
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"lecture":   l,
			"analytics": records,
		})
	},
}

func init() {
	lecturesListCmd.Flags().String("teacher", "", "filter by teacher id")
	lecturesListCmd.Flags().String("course", "", "filter by course code")
	lecturesListCmd.Flags().String("status", "", "filter by status (draft, analyzed, archived)")
	lecturesListCmd.Flags().Bool("oldest", false, "list oldest first")
	lecturesListCmd.Flags().Int("limit", 20, "maximum number of lectures to list")
	lecturesCmd.AddCommand(lecturesListCmd)
	lecturesCmd.AddCommand(lecturesShowCmd)
}

// --- teacher ---

var teacherCmd = &cobra.Command{
	Use:   "teacher <id>",
	Short: "Show a teacher's performance summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/teachers/"+url.PathEscape(args[0])+"/summary")
		if err != nil {
			return err
		}

		var s aggregate.TeacherSummary
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), s)
		}

		fmt.Printf("%s\n", colorize(colorBold, "Teacher "+s.TeacherID))
		printStatus("Lectures", "%d (%d scored)", s.TotalLectures, s.ScoredLectures)
		printStatus("Words", "%d", s.TotalWords)
		printStatus("Courses", "%s", strings.Join(s.Courses, ", "))
		if s.InsufficientData {
			printWarning("Not enough analyzed lectures for statistics")
			return nil
		}
		printStatus("Readability", "%s", formatStat(s.Readability))
		printStatus("Engagement", "%s", formatStat(s.Engagement))
		printStatus("Direction", "%s", s.Direction)
		return nil
	},
}

func init() {
	teacherCmd.Flags().Bool("json", false, "print the summary as JSON")
}

func formatStat(st *aggregate.Stat) string {
	if st == nil {
		return "-"
	}
	return fmt.Sprintf("mean %.1f, median %.1f, range %.1f-%.1f", st.Mean, st.Median, st.Min, st.Max)
}

// --- overview ---

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Show the institution-wide overview as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/overview")
		if err != nil {
			return err
		}
		var o aggregate.InstitutionOverview
		if err := decodeJSON(resp, &o); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), o)
	},
}

// --- reconcile ---

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Push locally stored documents to the remote database",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Reconciling local fallback writes...")
		resp, err := client.post(cmd.Context(), "/admin/reconcile", nil)
		if err != nil {
			return err
		}

		var report resilience.ReconcileReport
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printStatus("Examined", "%d", report.Examined)
		printStatus("Pushed", "%d", report.Pushed)
		printStatus("Kept remote", "%d", report.KeptRemote)
		printStatus("Conflicts", "%d", report.Conflicts)
		if report.Remaining > 0 {
			printWarning("%d documents still pending", report.Remaining)
			return nil
		}
		printSuccess("All documents in sync")
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Settings: %s\n", config.SettingsLocation())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

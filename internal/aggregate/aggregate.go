// Package aggregate computes teacher, institution and student views over
// stored lectures. It reads through whatever backend the repository uses.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/lecturelens/internal/lecture"
)

// Service answers aggregate queries.
type Service struct {
	repo        *lecture.Repository
	concurrency int
}

func NewService(repo *lecture.Repository) *Service {
	return &Service{repo: repo, concurrency: 4}
}

// TrendPoint is one scored lecture in date order.
type TrendPoint struct {
	LectureID   string  `json:"lecture_id"`
	Title       string  `json:"title"`
	Date        string  `json:"date"`
	Readability float64 `json:"readability_score"`
	Engagement  float64 `json:"engagement_score"`
}

type TeacherSummary struct {
	TeacherID        string       `json:"teacher_id"`
	TotalLectures    int          `json:"total_lectures"`
	ScoredLectures   int          `json:"scored_lectures"`
	TotalWords       int          `json:"total_words"`
	Courses          []string     `json:"courses"`
	InsufficientData bool         `json:"insufficient_data"`
	Readability      *Stat        `json:"readability,omitempty"`
	Engagement       *Stat        `json:"engagement,omitempty"`
	Trend            []TrendPoint `json:"trend"`
	Direction        Direction    `json:"trend_direction"`
}

// Teacher summarises every lecture of one teacher. A teacher with no scored
// lectures gets InsufficientData and nil stats.
func (s *Service) Teacher(ctx context.Context, teacherID string) (TeacherSummary, error) {
	lectures, err := s.repo.ListLectures(ctx, lecture.LectureFilter{TeacherID: teacherID})
	if err != nil {
		return TeacherSummary{}, fmt.Errorf("listing lectures for %s: %w", teacherID, err)
	}
	return summarize(teacherID, lectures), nil
}

// summarize expects lectures ordered by date.
func summarize(teacherID string, lectures []lecture.Lecture) TeacherSummary {
	sum := TeacherSummary{
		TeacherID:     teacherID,
		TotalLectures: len(lectures),
		Courses:       []string{},
		Trend:         []TrendPoint{},
	}
	seen := map[string]bool{}
	var readability, engagement []float64
	for _, l := range lectures {
		if !seen[l.CourseCode] {
			seen[l.CourseCode] = true
			sum.Courses = append(sum.Courses, l.CourseCode)
		}
		if !scored(l) {
			continue
		}
		sum.ScoredLectures++
		sum.TotalWords += l.WordCount
		readability = append(readability, *l.ReadabilityScore)
		engagement = append(engagement, *l.EngagementScore)
		sum.Trend = append(sum.Trend, TrendPoint{
			LectureID:   l.ID,
			Title:       l.Title,
			Date:        l.Date,
			Readability: *l.ReadabilityScore,
			Engagement:  *l.EngagementScore,
		})
	}
	sort.Strings(sum.Courses)

	if sum.ScoredLectures == 0 {
		sum.InsufficientData = true
		sum.Direction = DirectionUnknown
		return sum
	}
	sum.Readability = newStat(readability)
	sum.Engagement = newStat(engagement)
	sum.Direction = direction(engagement)
	return sum
}

func scored(l lecture.Lecture) bool {
	return l.Status.Scored() && l.ReadabilityScore != nil && l.EngagementScore != nil
}

// TeacherRollup is one row of the institution overview.
type TeacherRollup struct {
	TeacherID        string    `json:"teacher_id"`
	TotalLectures    int       `json:"total_lectures"`
	ScoredLectures   int       `json:"scored_lectures"`
	InsufficientData bool      `json:"insufficient_data"`
	MeanReadability  *float64  `json:"mean_readability,omitempty"`
	MeanEngagement   *float64  `json:"mean_engagement,omitempty"`
	Direction        Direction `json:"trend_direction"`
}

type InstitutionOverview struct {
	TotalLectures           int             `json:"total_lectures"`
	ScoredLectures          int             `json:"scored_lectures"`
	TotalTeachers           int             `json:"total_teachers"`
	ActiveCourses           []string        `json:"active_courses"`
	InsufficientData        bool            `json:"insufficient_data"`
	Readability             *Stat           `json:"readability,omitempty"`
	Engagement              *Stat           `json:"engagement,omitempty"`
	ReadabilityDistribution []Bucket        `json:"readability_distribution"`
	EngagementDistribution  []Bucket        `json:"engagement_distribution"`
	Teachers                []TeacherRollup `json:"teachers"`
}

// Overview builds institution-wide totals, distributions and a rollup per
// teacher. Teacher rollups are read concurrently.
func (s *Service) Overview(ctx context.Context) (InstitutionOverview, error) {
	all, err := s.repo.ListLectures(ctx, lecture.LectureFilter{})
	if err != nil {
		return InstitutionOverview{}, fmt.Errorf("listing lectures: %w", err)
	}

	ov := InstitutionOverview{TotalLectures: len(all), ActiveCourses: []string{}}
	var teachers []string
	seenTeacher, seenCourse := map[string]bool{}, map[string]bool{}
	var readability, engagement []float64
	for _, l := range all {
		if !seenTeacher[l.TeacherID] {
			seenTeacher[l.TeacherID] = true
			teachers = append(teachers, l.TeacherID)
		}
		if l.Status != lecture.StatusArchived && !seenCourse[l.CourseCode] {
			seenCourse[l.CourseCode] = true
			ov.ActiveCourses = append(ov.ActiveCourses, l.CourseCode)
		}
		if scored(l) {
			ov.ScoredLectures++
			readability = append(readability, *l.ReadabilityScore)
			engagement = append(engagement, *l.EngagementScore)
		}
	}
	sort.Strings(teachers)
	sort.Strings(ov.ActiveCourses)
	ov.TotalTeachers = len(teachers)
	ov.InsufficientData = ov.ScoredLectures == 0
	ov.Readability = newStat(readability)
	ov.Engagement = newStat(engagement)
	ov.ReadabilityDistribution = distribution(readability)
	ov.EngagementDistribution = distribution(engagement)

	rollups := make([]TeacherRollup, len(teachers))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range teachers {
		g.Go(func() error {
			sum, err := s.Teacher(gCtx, id)
			if err != nil {
				return err
			}
			rollups[i] = rollup(sum)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return InstitutionOverview{}, err
	}
	ov.Teachers = rollups
	return ov, nil
}

func rollup(sum TeacherSummary) TeacherRollup {
	r := TeacherRollup{
		TeacherID:        sum.TeacherID,
		TotalLectures:    sum.TotalLectures,
		ScoredLectures:   sum.ScoredLectures,
		InsufficientData: sum.InsufficientData,
		Direction:        sum.Direction,
	}
	if sum.Readability != nil {
		r.MeanReadability = &sum.Readability.Mean
	}
	if sum.Engagement != nil {
		r.MeanEngagement = &sum.Engagement.Mean
	}
	return r
}

// StudentLecture is the view of a lecture shown to students. It carries no
// scores.
type StudentLecture struct {
	LectureID       string   `json:"lecture_id"`
	Title           string   `json:"title"`
	TeacherID       string   `json:"teacher_id"`
	CourseCode      string   `json:"course_code"`
	Date            string   `json:"date"`
	DurationMinutes float64  `json:"duration_minutes,omitempty"`
	Topics          []string `json:"topics"`
	Objectives      []string `json:"learning_objectives"`
	HasTranscript   bool     `json:"has_transcript"`
}

// StudentLectures lists analyzed lectures of the given courses, newest
// first. No courses means every course.
func (s *Service) StudentLectures(ctx context.Context, courseCodes []string) ([]StudentLecture, error) {
	var lectures []lecture.Lecture
	if len(courseCodes) == 0 {
		all, err := s.repo.ListLectures(ctx, lecture.LectureFilter{Status: lecture.StatusAnalyzed, Newest: true})
		if err != nil {
			return nil, err
		}
		lectures = all
	} else {
		for _, code := range courseCodes {
			ls, err := s.repo.ListLectures(ctx, lecture.LectureFilter{CourseCode: code, Status: lecture.StatusAnalyzed, Newest: true})
			if err != nil {
				return nil, fmt.Errorf("listing lectures for %s: %w", code, err)
			}
			lectures = append(lectures, ls...)
		}
		sort.SliceStable(lectures, func(i, j int) bool { return lectures[i].Date > lectures[j].Date })
	}

	out := make([]StudentLecture, len(lectures))
	for i, l := range lectures {
		// A transcript that cannot be read right now is reported as absent.
		_, err := s.repo.GetMaterial(ctx, l.ID, lecture.MaterialTranscript)
		out[i] = StudentLecture{
			LectureID:       l.ID,
			Title:           l.Title,
			TeacherID:       l.TeacherID,
			CourseCode:      l.CourseCode,
			Date:            l.Date,
			DurationMinutes: l.DurationMinutes,
			Topics:          l.Topics,
			Objectives:      l.Objectives,
			HasTranscript:   err == nil,
		}
	}
	return out, nil
}

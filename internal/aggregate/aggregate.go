package aggregate

import (
	"math"
	"sort"

	"attendance-service/internal/models"
)

// ExcusedCountsInTotal pins the EXCUSED policy: excused classes stay in the
// denominator but never count as attended. Deployments with a different
// ruling change this constant, which shifts published percentages.
const ExcusedCountsInTotal = true

const (
	ThresholdSatisfactory = 75
	ThresholdWarning      = 65
)

// DefaultWindowWeeks is the rolling window used when the caller does not ask
// for a specific one.
const DefaultWindowWeeks = 4

func classify(percentage, totalClasses int) models.SummaryStatus {
	if totalClasses == 0 {
		// Nothing scheduled yet; don't flag the student.
		return models.SummarySatisfactory
	}

	switch {
	case percentage >= ThresholdSatisfactory:
		return models.SummarySatisfactory
	case percentage >= ThresholdWarning:
		return models.SummaryWarning
	default:
		return models.SummaryCritical
	}
}

type counts struct {
	total    int
	attended int
	absent   int
	late     int
	excused  int
}

func tally(records []models.AttendanceRecord) counts {
	var c counts

	for _, r := range records {
		switch r.Status {
		case models.AttendancePresent:
			c.total++
			c.attended++
		case models.AttendanceLate:
			c.total++
			c.attended++
			c.late++
		case models.AttendanceAbsent:
			c.total++
			c.absent++
		case models.AttendanceExcused:
			c.excused++
			if ExcusedCountsInTotal {
				c.total++
			}
		}
		// NOT_MARKED never reaches the ledger, but skip defensively.
	}

	return c
}

func percentage(attended, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(attended) / float64(total) * 100))
}

// Summarize rolls the records into a single rolling-window summary. The
// caller has already restricted records to the window and scope; an empty
// set yields a zero-valued summary, never an error.
func Summarize(studentID string, windowWeeks int, records []models.AttendanceRecord) models.StudentAttendanceSummary {
	if windowWeeks <= 0 {
		windowWeeks = DefaultWindowWeeks
	}

	c := tally(records)
	pct := percentage(c.attended, c.total)

	return models.StudentAttendanceSummary{
		StudentID:    studentID,
		WindowWeeks:  windowWeeks,
		TotalClasses: c.total,
		Attended:     c.attended,
		Absent:       c.absent,
		Late:         c.late,
		Excused:      c.excused,
		Percentage:   pct,
		Status:       classify(pct, c.total),
	}
}

// BySubject partitions the records by subject code and summarizes each
// partition, ordered by subject code for stable output.
func BySubject(records []models.AttendanceRecord) []models.SubjectAttendanceSummary {
	bySubject := make(map[string][]models.AttendanceRecord)
	names := make(map[string]string)

	for _, r := range records {
		bySubject[r.SubjectCode] = append(bySubject[r.SubjectCode], r)
		if r.SubjectName != "" {
			names[r.SubjectCode] = r.SubjectName
		}
	}

	codes := make([]string, 0, len(bySubject))
	for code := range bySubject {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	result := make([]models.SubjectAttendanceSummary, 0, len(codes))
	for _, code := range codes {
		c := tally(bySubject[code])
		pct := percentage(c.attended, c.total)

		result = append(result, models.SubjectAttendanceSummary{
			SubjectCode:  code,
			SubjectName:  names[code],
			TotalClasses: c.total,
			Attended:     c.attended,
			Absent:       c.absent,
			Late:         c.late,
			Excused:      c.excused,
			Percentage:   pct,
			Status:       classify(pct, c.total),
		})
	}

	return result
}

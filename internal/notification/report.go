package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/dustin/go-humanize"
)

const reportTimeLayout = "2006-01-02 15:04:05"

// GenerateReport renders the completion report for a summary snapshot
func GenerateReport(s models.RunSummary, end time.Time) string {
	var b strings.Builder

	b.WriteString("\nCalibration Summary Report\n")
	b.WriteString("-------------------------\n")
	fmt.Fprintf(&b, "Start Time: %s\n", s.StartTime.Format(reportTimeLayout))
	fmt.Fprintf(&b, "End Time: %s\n", end.Format(reportTimeLayout))
	fmt.Fprintf(&b, "Duration: %s\n", end.Sub(s.StartTime).Round(time.Second))
	fmt.Fprintf(&b, "Total Measurements: %s\n", humanize.Comma(int64(s.TotalMeasurements)))

	fmt.Fprintf(&b, "\nErrors (%d):\n", len(s.Errors))
	if len(s.Errors) == 0 {
		b.WriteString("None\n")
	}
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "- %s: %s\n", e.Timestamp.Format(reportTimeLayout), e.Message)
	}

	fmt.Fprintf(&b, "\nWarnings (%d):\n", len(s.Warnings))
	if len(s.Warnings) == 0 {
		b.WriteString("None\n")
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(&b, "- %s: %s\n", w.Timestamp.Format(reportTimeLayout), w.Message)
	}

	b.WriteString("\nMeasurement Statistics:\n")
	b.WriteString(measurementStats(s))
	return b.String()
}

func measurementStats(s models.RunSummary) string {
	var am, fm []models.Result
	for _, r := range s.Modulation {
		if r.Kind == models.KindFM {
			fm = append(fm, r)
		} else {
			am = append(am, r)
		}
	}

	var b strings.Builder
	if len(am) > 0 {
		primary, secondary := averages(am)
		b.WriteString("\nAM Modulation Measurements:\n")
		fmt.Fprintf(&b, "Total Points: %d\n", len(am))
		fmt.Fprintf(&b, "Average AM Value: %.2f%%\n", primary)
		fmt.Fprintf(&b, "Average Distortion: %.2f%%\n", secondary)
	}
	if len(fm) > 0 {
		primary, secondary := averages(fm)
		b.WriteString("\nFM Modulation Measurements:\n")
		fmt.Fprintf(&b, "Total Points: %d\n", len(fm))
		fmt.Fprintf(&b, "Average FM Value: %.2f Hz\n", primary)
		fmt.Fprintf(&b, "Average Distortion: %.2f%%\n", secondary)
	}
	if len(s.Level) > 0 {
		primary, secondary := averages(s.Level)
		b.WriteString("\nLevel Measurements:\n")
		fmt.Fprintf(&b, "Total Points: %d\n", len(s.Level))
		fmt.Fprintf(&b, "Average Level: %.2f dBm\n", primary)
		fmt.Fprintf(&b, "Average Uncertainty: %.4f dB\n", secondary)
	}
	return b.String()
}

func averages(results []models.Result) (primary, secondary float64) {
	for _, r := range results {
		primary += r.Primary
		secondary += r.Secondary
	}
	n := float64(len(results))
	return primary / n, secondary / n
}

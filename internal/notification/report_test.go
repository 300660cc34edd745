package notification

import (
	"testing"
	"time"

	"github.com/RMahshie/sigcal/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestGenerateReport(t *testing.T) {
	summary := models.RunSummary{
		StartTime:         start,
		TotalMeasurements: 1234,
		Errors: []models.ErrorRecord{
			{Timestamp: start.Add(time.Minute), Message: "Error processing frequency 1GHz: timeout"},
		},
		Modulation: []models.Result{
			{Kind: models.KindAM, Primary: 30, Secondary: 0.1},
			{Kind: models.KindAM, Primary: 50, Secondary: 0.3},
			{Kind: models.KindFM, Primary: 5000, Secondary: 0.2},
		},
		Level: []models.Result{
			{Kind: models.KindLevel, Primary: -10, Secondary: 0.0123},
			{Kind: models.KindLevel, Primary: -20, Secondary: 0.0125},
		},
	}

	report := GenerateReport(summary, start.Add(90*time.Minute+5*time.Second))

	assert.Contains(t, report, "Start Time: 2024-06-01 08:00:00")
	assert.Contains(t, report, "End Time: 2024-06-01 09:30:05")
	assert.Contains(t, report, "Duration: 1h30m5s")
	assert.Contains(t, report, "Total Measurements: 1,234")
	assert.Contains(t, report, "Errors (1):\n- 2024-06-01 08:01:00: Error processing frequency 1GHz: timeout")
	assert.Contains(t, report, "Warnings (0):\nNone")
	assert.Contains(t, report, "AM Modulation Measurements:\nTotal Points: 2\nAverage AM Value: 40.00%\nAverage Distortion: 0.20%")
	assert.Contains(t, report, "FM Modulation Measurements:\nTotal Points: 1\nAverage FM Value: 5000.00 Hz")
	assert.Contains(t, report, "Level Measurements:\nTotal Points: 2\nAverage Level: -15.00 dBm\nAverage Uncertainty: 0.0124 dB")
}

func TestGenerateReportEmpty(t *testing.T) {
	report := GenerateReport(models.RunSummary{StartTime: start}, start)

	assert.Contains(t, report, "Errors (0):\nNone")
	assert.Contains(t, report, "Total Measurements: 0")
	assert.NotContains(t, report, "AM Modulation Measurements")
	assert.NotContains(t, report, "Level Measurements")
}

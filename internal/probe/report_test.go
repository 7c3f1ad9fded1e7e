package probe

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stampede/api/schemas"
)

func TestWriteReport(t *testing.T) {
	report := schemas.ProbeReport{
		AgentName:      "prober",
		StartedAt:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt:     time.Date(2026, 8, 1, 12, 5, 0, 0, time.UTC),
		ProbesExecuted: []string{"negative_values", "injection_payloads", "validation_bypass"},
		FindingsCount:  3,
		Summary: map[schemas.Severity]int{
			schemas.SeverityCritical: 1,
			schemas.SeverityHigh:     1,
			schemas.SeverityLow:      1,
		},
		Findings: []schemas.ExploitFinding{
			{ID: "f-low", Severity: schemas.SeverityLow, Category: "VALIDATION_BYPASS", Title: "oversized input"},
			{ID: "f-crit", Severity: schemas.SeverityCritical, Category: "XSS", Title: "reflected script"},
			{ID: "f-high", Severity: schemas.SeverityHigh, Category: "NEGATIVE_VALUE", Title: "negative deposit"},
		},
	}

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteReport(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got schemas.ProbeReport
	require.NoError(t, json.Unmarshal(data, &got))

	// Findings come back sorted worst-first.
	ids := make([]string, len(got.Findings))
	for i, f := range got.Findings {
		ids[i] = f.ID
	}
	assert.Equal(t, []string{"f-crit", "f-high", "f-low"}, ids)

	want := report
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("report roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteReport_StableWithinSeverity(t *testing.T) {
	report := schemas.ProbeReport{
		Findings: []schemas.ExploitFinding{
			{ID: "a", Severity: schemas.SeverityHigh},
			{ID: "b", Severity: schemas.SeverityHigh},
			{ID: "c", Severity: schemas.SeverityCritical},
		},
	}

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteReport(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got schemas.ProbeReport
	require.NoError(t, json.Unmarshal(data, &got))

	ids := []string{got.Findings[0].ID, got.Findings[1].ID, got.Findings[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids, "probe order survives within a severity")
}

func TestOpenReportWriter_Stdout(t *testing.T) {
	w, err := openReportWriter("")
	require.NoError(t, err)
	assert.NoError(t, w.Close(), "stdout wrapper must not close the real stream")

	w, err = openReportWriter("stdout")
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}

func TestOpenReportWriter_BadPath(t *testing.T) {
	_, err := openReportWriter(filepath.Join(t.TempDir(), "missing", "report.json"))
	assert.Error(t, err)
}

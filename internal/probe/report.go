package probe

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/xkilldash9x/stampede/api/schemas"
)

// nopWriteCloser wraps an io.Writer with a no-op Close so stdout can be
// treated like a file.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }

// openReportWriter resolves the report destination. An empty path or
// "stdout" writes to standard output.
func openReportWriter(outputPath string) (io.WriteCloser, error) {
	if outputPath == "" || outputPath == "stdout" {
		return &nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file %s: %w", outputPath, err)
	}
	return f, nil
}

// WriteReport serializes the aggregate report as indented JSON, findings
// sorted worst-first while preserving probe order within a severity.
func WriteReport(report schemas.ProbeReport, outputPath string) error {
	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Severity.Rank() > report.Findings[j].Severity.Rank()
	})

	w, err := openReportWriter(outputPath)
	if err != nil {
		return err
	}
	defer w.Close()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write probe report: %w", err)
	}
	return nil
}

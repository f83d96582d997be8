package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

// ReportSink writes each optimization report as a JSON object under
// reports/<ticker>/<started_at>.json.
type ReportSink struct {
	writer domain.BlobWriter
}

var _ domain.ReportSink = (*ReportSink)(nil)

// NewReportSink returns a ReportSink writing through w.
func NewReportSink(w domain.BlobWriter) *ReportSink {
	return &ReportSink{writer: w}
}

func (s *ReportSink) WriteReport(ctx context.Context, report domain.OptimizationReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal report %s: %w", report.Ticker, err)
	}
	if err := s.writer.Put(ctx, reportKey(report), bytes.NewReader(body), "application/json"); err != nil {
		return err
	}
	return nil
}

func reportKey(r domain.OptimizationReport) string {
	ticker := strings.ReplaceAll(strings.ToUpper(r.Ticker), "/", "-")
	return fmt.Sprintf("reports/%s/%s.json", ticker, r.StartedAt.UTC().Format("20060102T150405.000Z"))
}

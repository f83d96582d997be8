package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

const ndjson = "application/x-ndjson"

// Archiver copies one UTC day of terminal positions and audit entries to the
// bucket as JSON lines. Nothing is deleted from the primary store; re-running
// a day overwrites the same objects.
type Archiver struct {
	writer    domain.BlobWriter
	positions domain.PositionStore
	audit     domain.AuditStore
	logger    *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, positions domain.PositionStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchivePositions uploads the CLOSED and CANCELLED positions last updated on
// day to archive/positions/YYYY/MM/DD.jsonl.
func (a *Archiver) ArchivePositions(ctx context.Context, day time.Time) (int, error) {
	opts := dayWindow(day)
	list, err := a.positions.ListTerminal(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	buf, err := marshalJSONL(list)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}
	return a.upload(ctx, "positions", *opts.Since, buf, len(list))
}

// ArchiveAudit uploads the audit entries written on day to
// archive/audit/YYYY/MM/DD.jsonl, oldest first.
func (a *Archiver) ArchiveAudit(ctx context.Context, day time.Time) (int, error) {
	opts := dayWindow(day)
	entries, err := a.audit.List(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	// the store lists newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}
	return a.upload(ctx, "audit", *opts.Since, buf, len(entries))
}

func (a *Archiver) upload(ctx context.Context, kind string, day time.Time, buf []byte, n int) (int, error) {
	if n == 0 {
		a.logger.InfoContext(ctx, "nothing to archive", slog.String("kind", kind), slog.Time("day", day))
		return 0, nil
	}
	key := archiveKey(kind, day)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), ndjson); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("key", key),
		slog.Int("count", n),
	)
	return n, nil
}

func dayWindow(day time.Time) domain.ListOpts {
	since := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	until := since.AddDate(0, 0, 1)
	return domain.ListOpts{Since: &since, Until: &until}
}

// archiveKey partitions archives by day, e.g. archive/positions/2025/01/31.jsonl.
func archiveKey(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006/01/02"))
}

func marshalJSONL[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/alanyoungcy/tradecycle/internal/domain"
)

type auditRow struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	Event     string
	Detail    []byte
	CreatedAt time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_log" }

// AuditStore implements domain.AuditStore with gorm.
type AuditStore struct {
	db *gorm.DB
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore returns an AuditStore on d.
func NewAuditStore(d *DB) *AuditStore {
	return &AuditStore{db: d.db}
}

// Log appends an audit entry.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	b, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	row := auditRow{Event: event, Detail: b, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var rows []auditRow
	q := listScope(s.db.WithContext(ctx), "created_at", opts)
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	out := make([]domain.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e := domain.AuditEntry{ID: r.ID, Event: r.Event, CreatedAt: r.CreatedAt}
		if len(r.Detail) > 0 {
			if err := json.Unmarshal(r.Detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

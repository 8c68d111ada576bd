package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/sftpgate/internal/auditctx"
	"github.com/charlesng35/sftpgate/internal/models"
	"github.com/charlesng35/sftpgate/pkg/logger"
)

// AuditEntry captures a single operation event to persist.
type AuditEntry struct {
	Operation string
	Path      string
	Target    string
	TenantID  string
	Success   bool
	ErrorKind string
	Message   string
	Bytes     int64
	Duration  time.Duration
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying operation logs.
type AuditFilters struct {
	Operation string
	TenantID  string
	Success   *bool
	Since     *time.Time
	Until     *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves operation logs.
type AuditService struct {
	db  *gorm.DB
	log *zap.Logger
}

var _ OperationRecorder = (*AuditService)(nil)

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, log: logger.WithModule("audit")}, nil
}

// Log stores an audit entry, enriching it with request metadata from ctx.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Operation) == "" {
		return errors.New("audit service: operation is required")
	}

	var payload datatypes.JSON
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		payload = datatypes.JSON(encoded)
	}

	record := models.OperationLog{
		Operation:  strings.TrimSpace(entry.Operation),
		Path:       entry.Path,
		Target:     entry.Target,
		TenantID:   strings.TrimSpace(entry.TenantID),
		Success:    entry.Success,
		ErrorKind:  entry.ErrorKind,
		Message:    entry.Message,
		Bytes:      entry.Bytes,
		DurationMs: entry.Duration.Milliseconds(),
		Metadata:   payload,
	}
	if req, ok := auditctx.FromContext(ctx); ok {
		record.RequestID = req.RequestID
		record.IPAddress = req.IPAddress
		record.UserAgent = req.UserAgent
	}

	return s.db.WithContext(ctx).Create(&record).Error
}

// Record implements OperationRecorder. Persistence failures are logged, never returned.
func (s *AuditService) Record(ctx context.Context, rec OperationRecord) {
	err := s.Log(ctx, AuditEntry{
		Operation: rec.Operation,
		Path:      rec.Path,
		Target:    rec.Target,
		TenantID:  rec.TenantID,
		Success:   rec.Success,
		ErrorKind: rec.ErrorKind,
		Message:   rec.Message,
		Bytes:     rec.Bytes,
		Duration:  rec.Duration,
	})
	if err != nil {
		s.log.Warn("failed to record operation", zap.String("operation", rec.Operation), zap.Error(err))
	}
}

// List returns paginated operation logs ordered by creation time descending.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.OperationLog, int64, error) {
	ctx = ensureContext(ctx)

	page, perPage := NormalizePage(opts.Page, opts.PageSize)

	var (
		results []models.OperationLog
		total   int64
	)

	query := s.db.WithContext(ctx).Model(&models.OperationLog{})
	query = applyAuditFilters(query, opts.Filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return results, total, nil
}

// NormalizePage clamps pagination input: pages start at 1 and page sizes
// outside 1..200 fall back to 50.
func NormalizePage(page, perPage int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}

// CleanupOlderThan removes operation logs older than the supplied retention window (in days).
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.OperationLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyAuditFilters(query *gorm.DB, filters AuditFilters) *gorm.DB {
	if filters.Operation != "" {
		query = query.Where("operation = ?", filters.Operation)
	}
	if filters.TenantID != "" {
		query = query.Where("tenant_id = ?", filters.TenantID)
	}
	if filters.Success != nil {
		query = query.Where("success = ?", *filters.Success)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OperationLog is the audit record of one file operation.
type OperationLog struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	Operation  string         `gorm:"not null;index" json:"operation"`
	Path       string         `gorm:"index" json:"path"`
	Target     string         `json:"target,omitempty"`
	TenantID   string         `gorm:"index" json:"tenant_id,omitempty"`
	RequestID  string         `gorm:"index" json:"request_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Success    bool           `gorm:"index" json:"success"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Message    string         `json:"message,omitempty"`
	Bytes      int64          `json:"bytes"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (o *OperationLog) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

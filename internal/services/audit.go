package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuditEntry is the caller-facing shape of one trail event. Data is
// marshaled to JSON at write time.
type AuditEntry struct {
	DocumentID   string
	EventType    models.AuditEventType
	ActorAddress string
	ActorEmail   string
	OriginIP     string
	OriginAgent  string
	Data         map[string]any
}

// recordAudit appends one event inside tx. The trail is best effort for
// callers outside a transaction; inside one, a failure rolls the operation
// back with everything else.
func recordAudit(tx *gorm.DB, logger *zap.Logger, e AuditEntry) error {
	data := "{}"
	if len(e.Data) > 0 {
		if b, err := json.Marshal(e.Data); err == nil {
			data = string(b)
		} else {
			logger.Warn("audit data marshal failed", zap.Error(err), zap.String("event", string(e.EventType)))
		}
	}

	event := models.AuditEvent{
		ID:        uuid.New().String(),
		EventType: e.EventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if e.DocumentID != "" {
		event.DocumentID = &e.DocumentID
	}
	if e.ActorAddress != "" {
		event.ActorAddress = &e.ActorAddress
	}
	if e.ActorEmail != "" {
		event.ActorEmail = &e.ActorEmail
	}
	if e.OriginIP != "" {
		event.OriginIP = &e.OriginIP
	}
	if e.OriginAgent != "" {
		event.OriginAgent = &e.OriginAgent
	}

	return tx.Create(&event).Error
}

package models

import (
	"time"
)

type AuditEventType string

const (
	EventCreated           AuditEventType = "created"
	EventDistributed       AuditEventType = "distributed"
	EventViewed            AuditEventType = "viewed"
	EventFieldSigned       AuditEventType = "field_signed"
	EventSigningCompleted  AuditEventType = "signing_completed"
	EventDocumentCompleted AuditEventType = "document_completed"
	EventDocumentCancelled AuditEventType = "document_cancelled"
)

// AuditEvent is an append-only trail entry. DocumentID is nullable so the
// trail survives document deletion with the reference nulled out.
type AuditEvent struct {
	ID           string         `gorm:"primaryKey"`
	DocumentID   *string        `gorm:"index"`
	EventType    AuditEventType `gorm:"not null"`
	ActorAddress *string
	ActorEmail   *string
	OriginIP     *string
	OriginAgent  *string
	Data         string `gorm:"type:json"`
	CreatedAt    time.Time
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"github.com/prometheus88/soulbound-signature/internal/identity"
	"github.com/prometheus88/soulbound-signature/internal/utils"
	"github.com/prometheus88/soulbound-signature/pkg/httperr"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// completer is the slice of the lifecycle manager the signing engine needs
// after a recipient finishes.
type completer interface {
	CheckAndComplete(ctx context.Context, docID string) (bool, error)
}

// SigningService validates and records signatures for individual fields
// and drives per-recipient completion.
type SigningService struct {
	db        *gorm.DB
	oracle    identity.Oracle
	completer completer
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
}

func NewSigningService(db *gorm.DB, oracle identity.Oracle, docService *DocumentService, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *SigningService {
	return &SigningService{
		db:        db,
		oracle:    oracle,
		completer: docService,
		logger:    logger.With(zap.String("service", "signing_service")),
		metrics:   metricsCollector,
	}
}

// SessionField is one field in the signing session view.
type SessionField struct {
	ID       string           `json:"id"`
	Type     models.FieldType `json:"type"`
	Page     int              `json:"page"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Width    float64          `json:"width"`
	Height   float64          `json:"height"`
	Meta     models.FieldMeta `json:"meta"`
	Signed   bool             `json:"signed"`
	Value    *string          `json:"value,omitempty"`
	Required bool             `json:"required"`
}

type SigningSession struct {
	DocumentID     string                      `json:"documentId"`
	Title          string                      `json:"title"`
	Status         models.DocumentStatus       `json:"status"`
	RecipientName  string                      `json:"recipientName"`
	SigningStatus  models.SigningStatus        `json:"signingStatus"`
	DocumentDigest string                      `json:"documentDigest"`
	TotalFields    int                         `json:"totalFields"`
	SignedFields   int                         `json:"signedFields"`
	Fields         []SessionField              `json:"fields"`
	Identities     []identity.VerifiedIdentity `json:"verifiedIdentities"`
}

type CompleteResult struct {
	RecipientStatus   models.SigningStatus `json:"recipientStatus"`
	DocumentCompleted bool                 `json:"documentCompleted"`
	SignedAt          time.Time            `json:"signedAt"`
}

// Session resolves a signing session by capability token. Oracle failures
// degrade to an empty identity list; identity verification is an
// enhancement, never a blocker.
func (ss *SigningService) Session(ctx context.Context, token, wallet string) (*SigningSession, error) {
	recipient, err := ss.recipientByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var doc models.Document
	if err := ss.db.WithContext(ctx).First(&doc, "id = ?", recipient.DocumentID).Error; err != nil {
		return nil, err
	}

	var fields []models.Field
	if err := ss.db.WithContext(ctx).Where("recipient_id = ?", recipient.ID).Find(&fields).Error; err != nil {
		return nil, err
	}

	session := &SigningSession{
		DocumentID:     doc.ID,
		Title:          doc.Title,
		Status:         doc.Status,
		RecipientName:  recipient.Name,
		SigningStatus:  recipient.SigningStatus,
		DocumentDigest: utils.DocumentDigest(doc.ArtifactData),
		TotalFields:    len(fields),
		Fields:         make([]SessionField, 0, len(fields)),
	}

	for _, f := range fields {
		meta, _ := f.DecodeMeta()
		var count int64
		if err := ss.db.WithContext(ctx).Model(&models.Signature{}).Where("field_id = ?", f.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		signed := count > 0
		if signed {
			session.SignedFields++
		}
		session.Fields = append(session.Fields, SessionField{
			ID:       f.ID,
			Type:     f.FieldType,
			Page:     f.Page,
			X:        f.PosX,
			Y:        f.PosY,
			Width:    f.Width,
			Height:   f.Height,
			Meta:     meta,
			Signed:   signed,
			Value:    f.Value,
			Required: f.FieldType.IsSignatureClass() || meta.Required,
		})
	}

	lookupWallet := wallet
	if lookupWallet == "" && recipient.WalletAddress != nil {
		lookupWallet = *recipient.WalletAddress
	}
	session.Identities = ss.identitiesFor(ctx, lookupWallet)

	if err := recordAudit(ss.db.WithContext(ctx), ss.logger, AuditEntry{
		DocumentID:   doc.ID,
		EventType:    models.EventViewed,
		ActorAddress: lookupWallet,
	}); err != nil {
		ss.logger.Warn("audit write failed", zap.Error(err), zap.String("doc_id", doc.ID))
	}

	return session, nil
}

// identitiesFor degrades any oracle error to an empty list.
func (ss *SigningService) identitiesFor(ctx context.Context, wallet string) []identity.VerifiedIdentity {
	if wallet == "" {
		return []identity.VerifiedIdentity{}
	}
	ids, err := ss.oracle.ListVerifiedIdentities(ctx, wallet)
	if err != nil {
		ss.logger.Warn("identity oracle lookup failed", zap.Error(err), zap.String("wallet", wallet))
		return []identity.VerifiedIdentity{}
	}
	if ids == nil {
		ids = []identity.VerifiedIdentity{}
	}
	return ids
}

// Sign records a signature for one field. The duplicate check and the
// insert run inside one transaction so concurrent duplicate requests
// cannot produce two signatures for a field.
func (ss *SigningService) Sign(ctx context.Context, token, fieldID string, req SignRequest) error {
	start := time.Now()

	recipient, err := ss.recipientByToken(ctx, token)
	if err != nil {
		return err
	}

	var field models.Field
	if err := ss.db.WithContext(ctx).First(&field, "id = ?", fieldID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httperr.NotFound("field not found")
		}
		return err
	}
	if field.RecipientID != recipient.ID {
		return httperr.Forbidden("field is assigned to a different recipient")
	}

	var doc models.Document
	if err := ss.db.WithContext(ctx).First(&doc, "id = ?", field.DocumentID).Error; err != nil {
		return err
	}
	if doc.Status != models.StatusPending {
		return httperr.StateConflict("document is not open for signing")
	}

	sig, marker, identityVerified, err := ss.buildSignature(ctx, recipient, &field, req)
	if err != nil {
		return err
	}

	err = ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Signature{}).Where("field_id = ?", field.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return httperr.StateConflict("field is already signed; unsign it first")
		}
		if err := tx.Create(sig).Error; err != nil {
			// the unique index on field_id catches duplicate requests that
			// both pass the count check
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return httperr.StateConflict("field is already signed; unsign it first")
			}
			return err
		}
		if err := tx.Model(&models.Field{}).Where("id = ?", field.ID).
			Updates(map[string]any{"value": marker, "inserted": true}).Error; err != nil {
			return err
		}
		return recordAudit(tx, ss.logger, AuditEntry{
			DocumentID:   field.DocumentID,
			EventType:    models.EventFieldSigned,
			ActorAddress: strval(recipient.WalletAddress),
			ActorEmail:   strval(recipient.Email),
			Data: map[string]any{
				"field_id":          field.ID,
				"field_type":        string(field.FieldType),
				"identity_verified": identityVerified,
			},
		})
	})
	if err != nil {
		return err
	}

	ss.metrics.IncrementCounter("fields_signed", map[string]string{"type": string(field.FieldType)})
	ss.metrics.ObserveLatency("field_sign", time.Since(start))
	ss.logger.Info("Field signed",
		zap.String("doc_id", field.DocumentID),
		zap.String("field_id", field.ID),
		zap.String("field_type", string(field.FieldType)),
		zap.Bool("identity_verified", identityVerified))
	return nil
}

// buildSignature validates the payload against the field type and prepares
// the signature row and the field's human-readable value marker.
func (ss *SigningService) buildSignature(ctx context.Context, recipient *models.Recipient, field *models.Field, req SignRequest) (*models.Signature, string, bool, error) {
	sig := &models.Signature{
		ID:          uuid.New().String(),
		FieldID:     field.ID,
		RecipientID: recipient.ID,
		CreatedAt:   time.Now().UTC(),
	}

	if !field.FieldType.IsSignatureClass() {
		if !req.HasValue() {
			return nil, "", false, httperr.Validation("a value is required for this field", nil)
		}
		value := req.ValueString()
		sig.TypedSignature = &value
		return sig, value, false, nil
	}

	mode, err := req.Resolve()
	if err != nil {
		return nil, "", false, err
	}

	switch mode {
	case ModeIdentity:
		wallet := strval(recipient.WalletAddress)
		if wallet == "" {
			wallet = strval(req.WalletAddress)
		}
		if wallet == "" {
			return nil, "", false, httperr.Validation("identity-verified signing requires a wallet identity", nil)
		}
		verification, err := ss.oracle.VerifyNameForWallet(ctx, wallet, *req.VerifiedName, strval(req.CredentialID))
		if err != nil {
			ss.logger.Warn("identity oracle verification unreachable", zap.Error(err), zap.String("wallet", wallet))
			return nil, "", false, httperr.Validation("identity verification unavailable, try another signing mode", nil)
		}
		if !verification.Verified {
			reason := verification.Reason
			if reason == "" {
				reason = "claimed name does not match an approved credential"
			}
			return nil, "", false, httperr.Validation("identity verification failed: "+reason, nil)
		}
		sig.VerifiedName = req.VerifiedName
		sig.VerifiedCredentialID = req.CredentialID
		if req.WalletSignature != nil && req.DocumentDigest != nil {
			sig.WalletSignature = req.WalletSignature
			sig.WalletAddress = &wallet
			sig.DocumentDigest = req.DocumentDigest
		}
		typed := *req.VerifiedName
		sig.TypedSignature = &typed
		return sig, "[" + *req.VerifiedName + "]", true, nil

	case ModeWallet:
		sig.WalletSignature = req.WalletSignature
		sig.WalletAddress = req.WalletAddress
		sig.DocumentDigest = req.DocumentDigest
		typed := *req.WalletAddress
		sig.TypedSignature = &typed
		return sig, shortAddress(*req.WalletAddress) + " (wallet-signed)", false, nil

	case ModeTyped:
		sig.TypedSignature = req.TypedSignature
		return sig, *req.TypedSignature, false, nil

	default: // ModeDrawn
		sig.SignatureImage = req.SignatureImage
		return sig, "[drawn signature]", false, nil
	}
}

// Unsign removes the signature for a field and resets it, while the
// document is still pending. Removing a signature that is not there is a
// no-op; completion freezes all of the recipient's fields.
func (ss *SigningService) Unsign(ctx context.Context, token, fieldID string) error {
	recipient, err := ss.recipientByToken(ctx, token)
	if err != nil {
		return err
	}
	if recipient.SigningStatus == models.SigningSigned {
		return httperr.StateConflict("signing is completed; fields can no longer change")
	}

	var doc models.Document
	if err := ss.db.WithContext(ctx).First(&doc, "id = ?", recipient.DocumentID).Error; err != nil {
		return err
	}
	if doc.Status != models.StatusPending {
		return httperr.StateConflict("document is not open for signing")
	}

	var field models.Field
	if err := ss.db.WithContext(ctx).First(&field, "id = ?", fieldID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httperr.NotFound("field not found")
		}
		return err
	}
	if field.RecipientID != recipient.ID {
		return httperr.Forbidden("field is assigned to a different recipient")
	}

	return ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("field_id = ?", field.ID).Delete(&models.Signature{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Field{}).Where("id = ?", field.ID).
			Updates(map[string]any{"value": nil, "inserted": false}).Error
	})
}

// Complete marks the recipient as finished once every required field is
// signed, then asks the lifecycle manager whether the whole document is
// done. A finalization failure inside that check never fails this call.
func (ss *SigningService) Complete(ctx context.Context, token, originIP, originAgent string) (*CompleteResult, error) {
	recipient, err := ss.recipientByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if recipient.SigningStatus == models.SigningSigned {
		return nil, httperr.StateConflict("signing is already completed")
	}

	var doc models.Document
	if err := ss.db.WithContext(ctx).First(&doc, "id = ?", recipient.DocumentID).Error; err != nil {
		return nil, err
	}
	if doc.Status != models.StatusPending {
		return nil, httperr.StateConflict("document is not open for signing")
	}

	var fields []models.Field
	if err := ss.db.WithContext(ctx).Where("recipient_id = ?", recipient.ID).Find(&fields).Error; err != nil {
		return nil, err
	}

	var unsigned []string
	for _, f := range fields {
		meta, _ := f.DecodeMeta()
		if !f.FieldType.IsSignatureClass() && !meta.Required {
			continue
		}
		var count int64
		if err := ss.db.WithContext(ctx).Model(&models.Signature{}).Where("field_id = ?", f.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			unsigned = append(unsigned, f.ID)
		}
	}
	if len(unsigned) > 0 {
		return nil, httperr.Validation("required fields are not signed", map[string]any{"unsigned_field_ids": unsigned})
	}

	now := time.Now().UTC()
	err = ss.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Recipient{}).
			Where("id = ? AND signing_status = ?", recipient.ID, models.SigningPending).
			Updates(map[string]any{
				"signing_status": models.SigningSigned,
				"signed_at":      now,
				"origin_ip":      originIP,
				"origin_agent":   originAgent,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return httperr.StateConflict("signing is already completed")
		}
		return recordAudit(tx, ss.logger, AuditEntry{
			DocumentID:   recipient.DocumentID,
			EventType:    models.EventSigningCompleted,
			ActorAddress: strval(recipient.WalletAddress),
			ActorEmail:   strval(recipient.Email),
			OriginIP:     originIP,
			OriginAgent:  originAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	ss.metrics.IncrementCounter("recipients_completed", nil)
	ss.logger.Info("Recipient completed signing",
		zap.String("doc_id", recipient.DocumentID),
		zap.String("recipient_id", recipient.ID))

	documentCompleted, err := ss.completer.CheckAndComplete(ctx, recipient.DocumentID)
	if err != nil {
		// the recipient's own completion already committed
		ss.logger.Error("completion check failed", zap.Error(err), zap.String("doc_id", recipient.DocumentID))
		documentCompleted = false
	}

	return &CompleteResult{
		RecipientStatus:   models.SigningSigned,
		DocumentCompleted: documentCompleted,
		SignedAt:          now,
	}, nil
}

func (ss *SigningService) recipientByToken(ctx context.Context, token string) (*models.Recipient, error) {
	var recipient models.Recipient
	if err := ss.db.WithContext(ctx).First(&recipient, "access_token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.NotFound("invalid signing token")
		}
		return nil, err
	}
	return &recipient, nil
}

func strval(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

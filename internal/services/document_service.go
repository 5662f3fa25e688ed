package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"github.com/prometheus88/soulbound-signature/internal/markup"
	"github.com/prometheus88/soulbound-signature/internal/payment"
	"github.com/prometheus88/soulbound-signature/internal/render"
	"github.com/prometheus88/soulbound-signature/internal/utils"
	"github.com/prometheus88/soulbound-signature/pkg/httperr"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// DocumentService owns the document state machine: creation, field
// placement, distribution, cancellation, deletion and completion.
type DocumentService struct {
	db       *gorm.DB
	renderer render.Renderer
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	baseURL  string
}

func NewDocumentService(db *gorm.DB, renderer render.Renderer, baseURL string, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *DocumentService {
	return &DocumentService{
		db:       db,
		renderer: renderer,
		logger:   logger.With(zap.String("service", "document_service")),
		metrics:  metricsCollector,
		baseURL:  baseURL,
	}
}

type RecipientInput struct {
	WalletAddress string `json:"walletAddress"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	SigningOrder  *int   `json:"signingOrder"`
}

type CreateDocumentInput struct {
	Title      string
	Format     string
	Content    string
	PDFData    []byte
	Recipients []RecipientInput
	Payment    *payment.SettledPayment
}

type FieldInput struct {
	RecipientID string           `json:"recipientId"`
	Type        models.FieldType `json:"type"`
	Page        int              `json:"page"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	Meta        models.FieldMeta `json:"meta"`
}

func (in *CreateDocumentInput) validate() error {
	if in.Payment == nil || in.Payment.TxHash == "" {
		return httperr.Validation("payment info is required for document creation", nil)
	}
	if in.Title == "" {
		return httperr.Validation("title must not be empty", nil)
	}
	switch in.Format {
	case FormatHTML:
		if in.Content == "" {
			return httperr.Validation("html documents require content", nil)
		}
		if len(in.PDFData) > 0 {
			return httperr.Validation("provide exactly one of content or pdf data", nil)
		}
	case FormatPDF:
		if len(in.PDFData) == 0 {
			return httperr.Validation("pdf documents require pdf data", nil)
		}
		if in.Content != "" {
			return httperr.Validation("provide exactly one of content or pdf data", nil)
		}
	default:
		return httperr.Validation("format must be html or pdf", nil)
	}
	if len(in.Recipients) == 0 {
		return httperr.Validation("at least one recipient is required", nil)
	}
	for i, r := range in.Recipients {
		if r.Name == "" {
			return httperr.Validation(fmt.Sprintf("recipient %d has no display name", i+1), nil)
		}
		if r.WalletAddress == "" && r.Email == "" {
			return httperr.Validation(fmt.Sprintf("recipient %q needs a wallet address or email", r.Name), nil)
		}
		switch models.RecipientRole(r.Role) {
		case "", models.RoleSigner, models.RoleViewer, models.RoleCC:
		default:
			return httperr.Validation(fmt.Sprintf("recipient %q has unknown role %q", r.Name, r.Role), nil)
		}
	}
	return nil
}

// Create persists a new document in draft along with its recipients and,
// on the markup path, the fields parsed out of the document body. The
// caller has already passed the payment handshake; its settlement ref is
// recorded on the document.
func (ds *DocumentService) Create(ctx context.Context, in CreateDocumentInput) (*models.Document, []markup.Warning, error) {
	start := time.Now()
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	doc := &models.Document{
		ID:           uuid.New().String(),
		Title:        in.Title,
		Status:       models.StatusDraft,
		OwnerAddress: in.Payment.Payer,
		PaymentTxRef: &in.Payment.TxHash,
		CreatedAt:    time.Now().UTC(),
	}

	if in.Format == FormatPDF {
		doc.ArtifactData = in.PDFData
	} else {
		artifact, err := ds.renderer.FromMarkup(in.Title, in.Content)
		if err != nil {
			ds.logger.Error("markup conversion failed", zap.Error(err), zap.String("doc_id", doc.ID))
			return nil, nil, httperr.Render("could not convert markup to an artifact")
		}
		doc.ArtifactData = artifact
		doc.SourceMarkup = &in.Content
	}

	recipients := make([]models.Recipient, 0, len(in.Recipients))
	for _, r := range in.Recipients {
		token, err := utils.GenerateAccessToken()
		if err != nil {
			return nil, nil, err
		}
		role := models.RecipientRole(r.Role)
		if role == "" {
			role = models.RoleSigner
		}
		rec := models.Recipient{
			ID:            uuid.New().String(),
			DocumentID:    doc.ID,
			Name:          r.Name,
			Role:          role,
			SigningOrder:  r.SigningOrder,
			SigningStatus: models.SigningPending,
			AccessToken:   token,
			CreatedAt:     time.Now().UTC(),
		}
		if r.WalletAddress != "" {
			addr := r.WalletAddress
			rec.WalletAddress = &addr
		}
		if r.Email != "" {
			email := r.Email
			rec.Email = &email
		}
		recipients = append(recipients, rec)
	}

	var fields []models.Field
	var warnings []markup.Warning
	if in.Format == FormatHTML {
		fields, warnings = markup.ParseFields(in.Content, recipients)
		for _, w := range warnings {
			ds.logger.Warn("field markup warning", zap.String("doc_id", doc.ID), zap.String("message", w.Message))
		}
	}

	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		if err := tx.Create(&recipients).Error; err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := tx.Create(&fields).Error; err != nil {
				return err
			}
		}
		return recordAudit(tx, ds.logger, AuditEntry{
			DocumentID:   doc.ID,
			EventType:    models.EventCreated,
			ActorAddress: in.Payment.Payer,
			Data: map[string]any{
				"title":      doc.Title,
				"format":     in.Format,
				"recipients": len(recipients),
				"payment_tx": in.Payment.TxHash,
			},
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist document: %w", err)
	}

	ds.metrics.IncrementCounter("documents_created", map[string]string{"format": in.Format})
	ds.metrics.ObserveSize("artifact_size", float64(len(doc.ArtifactData)))
	ds.metrics.ObserveLatency("document_create", time.Since(start))
	ds.logger.Info("Document created",
		zap.String("doc_id", doc.ID),
		zap.String("owner", doc.OwnerAddress),
		zap.Int("recipients", len(recipients)),
		zap.Int("fields", len(fields)))
	return doc, warnings, nil
}

// AddFields bulk-places fields on a draft document.
func (ds *DocumentService) AddFields(ctx context.Context, docID string, inputs []FieldInput) ([]models.Field, error) {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		return nil, httperr.StateConflict("fields can only be added while the document is in draft")
	}

	var recipients []models.Recipient
	if err := ds.db.WithContext(ctx).Where("document_id = ?", docID).Find(&recipients).Error; err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		known[r.ID] = true
	}

	fields := make([]models.Field, 0, len(inputs))
	for i, in := range inputs {
		if !models.ValidFieldType(in.Type) {
			return nil, httperr.Validation(fmt.Sprintf("field %d has unknown type %q", i+1, in.Type), nil)
		}
		if !known[in.RecipientID] {
			return nil, httperr.Validation(fmt.Sprintf("field %d references a recipient outside this document", i+1), nil)
		}
		if in.Page < 1 {
			in.Page = 1
		}
		if bad(in.X) || bad(in.Y) || bad(in.Width) || bad(in.Height) {
			return nil, httperr.Validation(fmt.Sprintf("field %d coordinates must be percentages between 0 and 100", i+1), nil)
		}
		f := models.Field{
			ID:          uuid.New().String(),
			DocumentID:  docID,
			RecipientID: in.RecipientID,
			FieldType:   in.Type,
			Page:        in.Page,
			PosX:        in.X,
			PosY:        in.Y,
			Width:       in.Width,
			Height:      in.Height,
		}
		if err := f.EncodeMeta(in.Meta); err != nil {
			return nil, httperr.Validation(fmt.Sprintf("field %d meta is invalid", i+1), nil)
		}
		fields = append(fields, f)
	}

	if len(fields) == 0 {
		return nil, httperr.Validation("no fields provided", nil)
	}
	if err := ds.db.WithContext(ctx).Create(&fields).Error; err != nil {
		return nil, fmt.Errorf("failed to persist fields: %w", err)
	}
	return fields, nil
}

func bad(v float64) bool { return v < 0 || v > 100 }

// Distribute moves a draft to pending and returns one signing link per
// recipient. Every signer must have at least one field; the first without
// any fails the whole transition by name, with no state change.
func (ds *DocumentService) Distribute(ctx context.Context, docID string) (map[string]string, error) {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusDraft {
		return nil, httperr.StateConflict("only draft documents can be distributed")
	}

	var recipients []models.Recipient
	if err := ds.db.WithContext(ctx).Where("document_id = ?", docID).Order("created_at ASC, id ASC").Find(&recipients).Error; err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, httperr.Validation("document has no recipients", nil)
	}

	for _, r := range recipients {
		if r.Role != models.RoleSigner {
			continue
		}
		var count int64
		if err := ds.db.WithContext(ctx).Model(&models.Field{}).Where("recipient_id = ?", r.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, httperr.Validation(
				fmt.Sprintf("signer %q has no fields assigned", r.Name),
				map[string]any{"recipient_id": r.ID, "recipient_name": r.Name},
			)
		}
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).
			Where("id = ? AND status = ?", docID, models.StatusDraft).
			Update("status", models.StatusPending)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return httperr.StateConflict("only draft documents can be distributed")
		}
		return recordAudit(tx, ds.logger, AuditEntry{
			DocumentID: docID,
			EventType:  models.EventDistributed,
			Data:       map[string]any{"recipients": len(recipients)},
		})
	})
	if err != nil {
		return nil, err
	}

	links := make(map[string]string, len(recipients))
	for i, r := range recipients {
		links[fmt.Sprintf("recipient_%d", i+1)] = ds.SigningLink(r.AccessToken)
	}

	ds.metrics.IncrementCounter("documents_distributed", nil)
	ds.logger.Info("Document distributed", zap.String("doc_id", docID), zap.Int("recipients", len(recipients)))
	return links, nil
}

func (ds *DocumentService) SigningLink(token string) string {
	return ds.baseURL + "/sign/" + token
}

func (ds *DocumentService) PreviewLink(docID string) string {
	return ds.baseURL + "/documents/" + docID
}

// Cancel moves a pending document to cancelled. Only the owner may cancel,
// and the status flip is guarded so it cannot race a concurrent completion.
func (ds *DocumentService) Cancel(ctx context.Context, docID, requester string) error {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return err
	}
	if doc.OwnerAddress != requester {
		return httperr.Forbidden("only the document owner may cancel")
	}
	if doc.Status != models.StatusPending {
		return httperr.StateConflict("only pending documents can be cancelled")
	}

	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).
			Where("id = ? AND status = ?", docID, models.StatusPending).
			Update("status", models.StatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return httperr.StateConflict("only pending documents can be cancelled")
		}
		if err := recordAudit(tx, ds.logger, AuditEntry{
			DocumentID:   docID,
			EventType:    models.EventDocumentCancelled,
			ActorAddress: requester,
		}); err != nil {
			return err
		}
		ds.logger.Info("Document cancelled", zap.String("doc_id", docID), zap.String("by", requester))
		return nil
	})
}

// Delete removes a draft or cancelled document and everything under it,
// children before parents in one transaction. Audit events survive with
// their document reference nulled.
func (ds *DocumentService) Delete(ctx context.Context, docID, requester string) error {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return err
	}
	if doc.OwnerAddress != requester {
		return httperr.Forbidden("only the document owner may delete")
	}
	if doc.Status != models.StatusDraft && doc.Status != models.StatusCancelled {
		return httperr.StateConflict("only draft or cancelled documents can be deleted")
	}

	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fieldIDs := tx.Model(&models.Field{}).Select("id").Where("document_id = ?", docID)
		if err := tx.Where("field_id IN (?)", fieldIDs).Delete(&models.Signature{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.Field{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", docID).Delete(&models.Recipient{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AuditEvent{}).Where("document_id = ?", docID).
			Update("document_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", docID).Delete(&models.Document{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	ds.logger.Info("Document deleted", zap.String("doc_id", docID), zap.String("by", requester))
	return nil
}

// Get returns the document with its recipients and fields.
func (ds *DocumentService) Get(ctx context.Context, docID string) (*models.Document, []models.Recipient, []models.Field, error) {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return nil, nil, nil, err
	}
	var recipients []models.Recipient
	if err := ds.db.WithContext(ctx).Where("document_id = ?", docID).Order("created_at ASC, id ASC").Find(&recipients).Error; err != nil {
		return nil, nil, nil, err
	}
	var fields []models.Field
	if err := ds.db.WithContext(ctx).Where("document_id = ?", docID).Find(&fields).Error; err != nil {
		return nil, nil, nil, err
	}
	return doc, recipients, fields, nil
}

// Download returns the finalized artifact. Anything short of completed is
// reported as not found so internals do not leak.
func (ds *DocumentService) Download(ctx context.Context, docID string) (*models.Document, error) {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusCompleted || len(doc.ArtifactData) == 0 {
		return nil, httperr.NotFound("finalized artifact not available")
	}
	return doc, nil
}

// Inbox lists pending documents where the wallet is an outstanding signer.
func (ds *DocumentService) Inbox(ctx context.Context, wallet string) ([]models.Document, map[string]models.Recipient, error) {
	var recipients []models.Recipient
	if err := ds.db.WithContext(ctx).
		Where("wallet_address = ? AND signing_status = ?", wallet, models.SigningPending).
		Find(&recipients).Error; err != nil {
		return nil, nil, err
	}
	if len(recipients) == 0 {
		return nil, map[string]models.Recipient{}, nil
	}

	docIDs := make([]string, 0, len(recipients))
	byDoc := make(map[string]models.Recipient, len(recipients))
	for _, r := range recipients {
		docIDs = append(docIDs, r.DocumentID)
		byDoc[r.DocumentID] = r
	}

	var docs []models.Document
	if err := ds.db.WithContext(ctx).
		Where("id IN ? AND status = ?", docIDs, models.StatusPending).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		return nil, nil, err
	}
	return docs, byDoc, nil
}

// CheckAndComplete finalizes the document once every signer has signed.
// Finalization renders before the status flip, and the flip is a guarded
// conditional update, so two racing last-signer completions produce exactly
// one finalization; the loser observes the already-completed state. A
// render failure leaves the document pending for a later retry and is
// never surfaced to the signer whose completion triggered the check.
func (ds *DocumentService) CheckAndComplete(ctx context.Context, docID string) (bool, error) {
	doc, err := ds.load(ctx, docID)
	if err != nil {
		return false, err
	}
	if doc.Status == models.StatusCompleted {
		return true, nil
	}
	if doc.Status != models.StatusPending {
		return false, nil
	}

	var outstanding int64
	if err := ds.db.WithContext(ctx).Model(&models.Recipient{}).
		Where("document_id = ? AND role = ? AND signing_status <> ?", docID, models.RoleSigner, models.SigningSigned).
		Count(&outstanding).Error; err != nil {
		return false, err
	}
	if outstanding > 0 {
		return false, nil
	}

	finalized, err := ds.finalize(ctx, doc)
	if err != nil {
		ds.logger.Error("finalization failed, document stays pending",
			zap.Error(err), zap.String("doc_id", docID))
		ds.metrics.IncrementCounter("finalize_failures", nil)
		return false, nil
	}

	now := time.Now().UTC()
	completed := false
	err = ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Document{}).
			Where("id = ? AND status = ?", docID, models.StatusPending).
			Updates(map[string]any{
				"status":        models.StatusCompleted,
				"completed_at":  now,
				"artifact_data": finalized,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// lost the race; whoever won already finalized
			return nil
		}
		completed = true
		return recordAudit(tx, ds.logger, AuditEntry{
			DocumentID: docID,
			EventType:  models.EventDocumentCompleted,
			Data:       map[string]any{"completed_at": now.Format(time.RFC3339)},
		})
	})
	if err != nil {
		return false, err
	}
	if !completed {
		fresh, err := ds.load(ctx, docID)
		if err != nil {
			return false, err
		}
		return fresh.Status == models.StatusCompleted, nil
	}

	ds.metrics.IncrementCounter("documents_completed", nil)
	ds.metrics.ObserveSize("finalized_artifact_size", float64(len(finalized)))
	ds.logger.Info("Document completed", zap.String("doc_id", docID))
	return true, nil
}

func (ds *DocumentService) finalize(ctx context.Context, doc *models.Document) ([]byte, error) {
	start := time.Now()

	var recipients []models.Recipient
	if err := ds.db.WithContext(ctx).Where("document_id = ?", doc.ID).Order("created_at ASC, id ASC").Find(&recipients).Error; err != nil {
		return nil, err
	}
	var fields []models.Field
	if err := ds.db.WithContext(ctx).Where("document_id = ?", doc.ID).Find(&fields).Error; err != nil {
		return nil, err
	}
	fieldIDs := make([]string, 0, len(fields))
	for _, f := range fields {
		fieldIDs = append(fieldIDs, f.ID)
	}
	var sigs []models.Signature
	if len(fieldIDs) > 0 {
		if err := ds.db.WithContext(ctx).Where("field_id IN ?", fieldIDs).Find(&sigs).Error; err != nil {
			return nil, err
		}
	}
	sigMap := make(map[string]*models.Signature, len(sigs))
	for i := range sigs {
		sigMap[sigs[i].FieldID] = &sigs[i]
	}

	finalized, err := ds.renderer.Finalize(render.FinalizeInput{
		Title:      doc.Title,
		Artifact:   doc.ArtifactData,
		Recipients: recipients,
		Fields:     fields,
		Signatures: sigMap,
	})
	if err != nil {
		return nil, httperr.Render(err.Error())
	}

	ds.metrics.ObserveLatency("finalize", time.Since(start))
	return finalized, nil
}

func (ds *DocumentService) load(ctx context.Context, docID string) (*models.Document, error) {
	var doc models.Document
	if err := ds.db.WithContext(ctx).First(&doc, "id = ?", docID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, httperr.NotFound("document not found")
		}
		return nil, err
	}
	return &doc, nil
}

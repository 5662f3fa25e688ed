package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus88/soulbound-signature/internal/api/middleware"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"github.com/prometheus88/soulbound-signature/internal/services"
	"github.com/prometheus88/soulbound-signature/pkg/httperr"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	documentService *services.DocumentService
	logger          *zap.Logger
}

func NewDocumentHandler(documentService *services.DocumentService, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		logger:          logger.With(zap.String("handler", "document")),
	}
}

type createDocumentRequest struct {
	Title      string                    `json:"title"`
	Format     string                    `json:"format"`
	Content    string                    `json:"content"`
	PDFBase64  string                    `json:"pdfBase64"`
	Recipients []services.RecipientInput `json:"recipients"`
}

type recipientView struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Role          models.RecipientRole `json:"role"`
	WalletAddress *string              `json:"walletAddress,omitempty"`
	Email         *string              `json:"email,omitempty"`
	SigningOrder  *int                 `json:"signingOrder,omitempty"`
	SigningStatus models.SigningStatus `json:"signingStatus"`
	SignedAt      any                  `json:"signedAt,omitempty"`
}

func maskRecipients(recipients []models.Recipient) []recipientView {
	out := make([]recipientView, 0, len(recipients))
	for _, r := range recipients {
		v := recipientView{
			ID:            r.ID,
			Name:          r.Name,
			Role:          r.Role,
			WalletAddress: r.WalletAddress,
			Email:         r.Email,
			SigningOrder:  r.SigningOrder,
			SigningStatus: r.SigningStatus,
		}
		if r.SignedAt != nil {
			v.SignedAt = r.SignedAt
		}
		out = append(out, v)
	}
	return out
}

// CreateDocument handles the payment-gated creation call. The payment
// middleware has already verified and settled the proof.
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	settled := middleware.SettledPaymentFrom(c)
	if settled == nil {
		httperr.Respond(c, httperr.Validation("payment info is required for document creation", nil))
		return
	}

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Respond(c, httperr.Validation("malformed request body", nil))
		return
	}

	var pdfData []byte
	if req.PDFBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.PDFBase64)
		if err != nil {
			httperr.Respond(c, httperr.Validation("pdfBase64 is not valid base64", nil))
			return
		}
		pdfData = decoded
	}

	doc, warnings, err := h.documentService.Create(c.Request.Context(), services.CreateDocumentInput{
		Title:      req.Title,
		Format:     req.Format,
		Content:    req.Content,
		PDFData:    pdfData,
		Recipients: req.Recipients,
		Payment:    settled,
	})
	if err != nil {
		httperr.Respond(c, err)
		return
	}

	_, recipients, _, err := h.documentService.Get(c.Request.Context(), doc.ID)
	if err != nil {
		httperr.Respond(c, err)
		return
	}
	links := make(map[string]string, len(recipients))
	for i, r := range recipients {
		links[fmt.Sprintf("recipient_%d", i+1)] = h.documentService.SigningLink(r.AccessToken)
	}

	body := gin.H{
		"documentId":   doc.ID,
		"status":       doc.Status,
		"signingLinks": links,
		"previewUrl":   h.documentService.PreviewLink(doc.ID),
	}
	if len(warnings) > 0 {
		body["warnings"] = warnings
	}
	c.JSON(http.StatusCreated, body)
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, recipients, fields, err := h.documentService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Respond(c, err)
		return
	}

	fieldViews := make([]gin.H, 0, len(fields))
	for _, f := range fields {
		meta, _ := f.DecodeMeta()
		fieldViews = append(fieldViews, gin.H{
			"id":          f.ID,
			"recipientId": f.RecipientID,
			"type":        f.FieldType,
			"page":        f.Page,
			"x":           f.PosX,
			"y":           f.PosY,
			"width":       f.Width,
			"height":      f.Height,
			"meta":        meta,
			"inserted":    f.Inserted,
			"value":       f.Value,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"document": gin.H{
			"id":          doc.ID,
			"title":       doc.Title,
			"status":      doc.Status,
			"owner":       doc.OwnerAddress,
			"createdAt":   doc.CreatedAt,
			"completedAt": doc.CompletedAt,
		},
		"recipients": maskRecipients(recipients),
		"fields":     fieldViews,
	})
}

func (h *DocumentHandler) AddFields(c *gin.Context) {
	var req struct {
		Fields []services.FieldInput `json:"fields"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Respond(c, httperr.Validation("malformed request body", nil))
		return
	}

	fields, err := h.documentService.AddFields(c.Request.Context(), c.Param("id"), req.Fields)
	if err != nil {
		httperr.Respond(c, err)
		return
	}

	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, f.ID)
	}
	c.JSON(http.StatusOK, gin.H{"fieldIds": ids})
}

func (h *DocumentHandler) DistributeDocument(c *gin.Context) {
	links, err := h.documentService.Distribute(c.Request.Context(), c.Param("id"))
	if err != nil {
		// lifecycle guard failures answer 400 per the API contract
		if e, ok := httperr.AsE(err); ok && e.Kind == httperr.KindStateConflict {
			httperr.Respond(c, httperr.Validation(e.Message, nil))
			return
		}
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusPending, "signingLinks": links})
}

func (h *DocumentHandler) CancelDocument(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.WalletAddress == "" {
		httperr.Respond(c, httperr.Validation("walletAddress is required", nil))
		return
	}

	if err := h.documentService.Cancel(c.Request.Context(), c.Param("id"), req.WalletAddress); err != nil {
		if e, ok := httperr.AsE(err); ok && e.Kind == httperr.KindStateConflict {
			httperr.Respond(c, httperr.Validation(e.Message, nil))
			return
		}
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.StatusCancelled})
}

func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.WalletAddress == "" {
		httperr.Respond(c, httperr.Validation("walletAddress is required", nil))
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), c.Param("id"), req.WalletAddress); err != nil {
		if e, ok := httperr.AsE(err); ok && e.Kind == httperr.KindStateConflict {
			httperr.Respond(c, httperr.Validation(e.Message, nil))
			return
		}
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	doc, err := h.documentService.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		httperr.Respond(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `inline; filename="`+doc.Title+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", doc.ArtifactData)
}

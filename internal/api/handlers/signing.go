package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus88/soulbound-signature/internal/identity"
	"github.com/prometheus88/soulbound-signature/internal/services"
	"github.com/prometheus88/soulbound-signature/pkg/httperr"
	"go.uber.org/zap"
)

type SigningHandler struct {
	signingService  *services.SigningService
	documentService *services.DocumentService
	oracle          identity.Oracle
	logger          *zap.Logger
}

func NewSigningHandler(signingService *services.SigningService, documentService *services.DocumentService, oracle identity.Oracle, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		signingService:  signingService,
		documentService: documentService,
		oracle:          oracle,
		logger:          logger.With(zap.String("handler", "signing")),
	}
}

// GetSession serves the signing session for a capability token. The
// optional wallet query selects whose verified identities to offer.
func (h *SigningHandler) GetSession(c *gin.Context) {
	session, err := h.signingService.Session(c.Request.Context(), c.Param("token"), c.Query("wallet"))
	if err != nil {
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SigningHandler) SignField(c *gin.Context) {
	var req services.SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Respond(c, httperr.Validation("malformed request body", nil))
		return
	}

	if err := h.signingService.Sign(c.Request.Context(), c.Param("token"), c.Param("fieldId"), req); err != nil {
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed": true})
}

func (h *SigningHandler) UnsignField(c *gin.Context) {
	if err := h.signingService.Unsign(c.Request.Context(), c.Param("token"), c.Param("fieldId")); err != nil {
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signed": false})
}

func (h *SigningHandler) CompleteSigning(c *gin.Context) {
	result, err := h.signingService.Complete(c.Request.Context(), c.Param("token"), c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		httperr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"recipientStatus":   result.RecipientStatus,
		"documentCompleted": result.DocumentCompleted,
		"signedAt":          result.SignedAt,
	})
}

// GetInbox lists pending documents awaiting this wallet's signature, along
// with the wallet's available verified identities. Oracle failures degrade
// to an empty identity list.
func (h *SigningHandler) GetInbox(c *gin.Context) {
	wallet := c.Param("wallet")

	docs, byDoc, err := h.documentService.Inbox(c.Request.Context(), wallet)
	if err != nil {
		httperr.Respond(c, err)
		return
	}

	entries := make([]gin.H, 0, len(docs))
	for _, d := range docs {
		entry := gin.H{
			"documentId": d.ID,
			"title":      d.Title,
			"status":     d.Status,
			"createdAt":  d.CreatedAt,
		}
		if r, ok := byDoc[d.ID]; ok {
			entry["signingLink"] = h.documentService.SigningLink(r.AccessToken)
		}
		entries = append(entries, entry)
	}

	identities, err := h.oracle.ListVerifiedIdentities(c.Request.Context(), wallet)
	if err != nil {
		h.logger.Warn("identity oracle lookup failed", zap.Error(err), zap.String("wallet", wallet))
		identities = []identity.VerifiedIdentity{}
	}
	if identities == nil {
		identities = []identity.VerifiedIdentity{}
	}

	c.JSON(http.StatusOK, gin.H{
		"documents":          entries,
		"verifiedIdentities": identities,
	})
}

package render

import (
	"github.com/prometheus88/soulbound-signature/internal/db/models"
)

// FinalizeInput carries everything the pipeline needs to bake a document:
// the working artifact, the signers, the placed fields and the signature
// recorded for each signed field (keyed by field id).
type FinalizeInput struct {
	Title      string
	Artifact   []byte
	Recipients []models.Recipient
	Fields     []models.Field
	Signatures map[string]*models.Signature
}

// Renderer produces and finalizes PDF artifacts. Implementations must be
// safe for concurrent use and must not share mutable render state between
// calls; a failed call leaves no residue for the next one.
type Renderer interface {
	// FromMarkup converts an HTML document body into a working PDF. The
	// conversion is best effort: text content is laid out page by page,
	// field placement tags render as blank space.
	FromMarkup(title, body string) ([]byte, error)

	// Finalize draws every inserted field value onto its page and appends
	// the signing confirmation record, returning the finalized artifact.
	Finalize(input FinalizeInput) ([]byte, error)
}

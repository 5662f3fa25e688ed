package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"github.com/prometheus88/soulbound-signature/pkg/httperr"
	"github.com/stretchr/testify/require"
)

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("payment required", func(t *testing.T) {
		in := pdfInput(signerInput("Alice", aliceWallet))
		in.Payment = nil
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("empty title", func(t *testing.T) {
		in := pdfInput(signerInput("Alice", aliceWallet))
		in.Title = ""
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("unknown format", func(t *testing.T) {
		in := pdfInput(signerInput("Alice", aliceWallet))
		in.Format = "docx"
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("both content and pdf data", func(t *testing.T) {
		in := pdfInput(signerInput("Alice", aliceWallet))
		in.Content = "<p>hi</p>"
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("no recipients", func(t *testing.T) {
		in := pdfInput()
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("recipient without contact", func(t *testing.T) {
		in := pdfInput(RecipientInput{Name: "Alice"})
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("unknown role", func(t *testing.T) {
		in := pdfInput(RecipientInput{Name: "Alice", WalletAddress: aliceWallet, Role: "witness"})
		_, _, err := f.docs.Create(ctx, in)
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})
}

func TestCreateFromPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, warnings, err := f.docs.Create(ctx, pdfInput(
		signerInput("Alice", aliceWallet),
		RecipientInput{Name: "Carol", Email: "carol@example.com", Role: string(models.RoleViewer)},
	))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, models.StatusDraft, doc.Status)
	require.Equal(t, ownerWallet, doc.OwnerAddress)
	require.NotNil(t, doc.PaymentTxRef)
	require.Equal(t, "0xfeedbeef", *doc.PaymentTxRef)
	require.Nil(t, doc.CompletedAt)
	require.Nil(t, doc.SourceMarkup)

	var recs []models.Recipient
	require.NoError(t, f.db.Where("document_id = ?", doc.ID).Find(&recs).Error)
	require.Len(t, recs, 2)
	tokens := map[string]bool{}
	for _, r := range recs {
		require.Len(t, r.AccessToken, 64)
		require.False(t, tokens[r.AccessToken])
		tokens[r.AccessToken] = true
		require.Equal(t, models.SigningPending, r.SigningStatus)
	}

	var events []models.AuditEvent
	require.NoError(t, f.db.Where("document_id = ?", doc.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, models.EventCreated, events[0].EventType)
}

func TestCreateFromMarkupParsesFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := `<html><body>
		<p>Please sign below.</p>
		<sign-field type="signature" recipient="1" page="1" x="10" y="70" width="30" height="6"></sign-field>
		<sign-field type="date" recipient="1" x="50" y="70"></sign-field>
		<sign-field type="signature" recipient="9"></sign-field>
	</body></html>`

	doc, warnings, err := f.docs.Create(ctx, CreateDocumentInput{
		Title:      "Markup Doc",
		Format:     FormatHTML,
		Content:    body,
		Recipients: []RecipientInput{signerInput("Alice", aliceWallet)},
		Payment:    settled(),
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "unresolved recipient")

	require.NotNil(t, doc.SourceMarkup)
	require.True(t, strings.HasPrefix(string(doc.ArtifactData), "%PDF-stub"))

	var fields []models.Field
	require.NoError(t, f.db.Where("document_id = ?", doc.ID).Find(&fields).Error)
	require.Len(t, fields, 2)
}

func TestAddFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, _, err := f.docs.Create(ctx, pdfInput(signerInput("Alice", aliceWallet)))
	require.NoError(t, err)
	var rec models.Recipient
	require.NoError(t, f.db.First(&rec, "document_id = ?", doc.ID).Error)

	t.Run("unknown type rejected", func(t *testing.T) {
		_, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: rec.ID, Type: "hologram", X: 1, Y: 1, Width: 5, Height: 5}})
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("foreign recipient rejected", func(t *testing.T) {
		_, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: "nope", Type: models.FieldSignature, X: 1, Y: 1, Width: 5, Height: 5}})
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("coordinates are percentages", func(t *testing.T) {
		_, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: rec.ID, Type: models.FieldSignature, X: 140, Y: 1, Width: 5, Height: 5}})
		require.True(t, httperr.IsKind(err, httperr.KindValidation))
	})

	t.Run("page defaults to one", func(t *testing.T) {
		fields, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{
			RecipientID: rec.ID, Type: models.FieldText, Page: 0, X: 5, Y: 5, Width: 20, Height: 4,
			Meta: models.FieldMeta{Required: true, Placeholder: "Company"},
		}})
		require.NoError(t, err)
		require.Len(t, fields, 1)
		require.Equal(t, 1, fields[0].Page)
		meta, err := fields[0].DecodeMeta()
		require.NoError(t, err)
		require.True(t, meta.Required)
		require.Equal(t, "Company", meta.Placeholder)
	})

	t.Run("draft only", func(t *testing.T) {
		pending, recs := createDistributed(t, f, signerInput("Bob", bobWallet))
		_, err := f.docs.AddFields(ctx, pending.ID, []FieldInput{{RecipientID: recs[0].ID, Type: models.FieldSignature, X: 1, Y: 1, Width: 5, Height: 5}})
		require.True(t, httperr.IsKind(err, httperr.KindStateConflict))
	})
}

func TestDistribute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("signer without fields blocks by name", func(t *testing.T) {
		doc, _, err := f.docs.Create(ctx, pdfInput(
			signerInput("Alice", aliceWallet),
			signerInput("Bob", bobWallet),
		))
		require.NoError(t, err)

		var alice models.Recipient
		require.NoError(t, f.db.First(&alice, "document_id = ? AND name = ?", doc.ID, "Alice").Error)
		_, err = f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: alice.ID, Type: models.FieldSignature, X: 10, Y: 10, Width: 30, Height: 6}})
		require.NoError(t, err)

		_, err = f.docs.Distribute(ctx, doc.ID)
		e, ok := httperr.AsE(err)
		require.True(t, ok)
		require.Equal(t, httperr.KindValidation, e.Kind)
		require.Contains(t, e.Message, "Bob")
		details, ok := e.Details.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "Bob", details["recipient_name"])

		fresh, err := loadDoc(f, doc.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusDraft, fresh.Status)
	})

	t.Run("viewer needs no fields", func(t *testing.T) {
		doc, _ := createDistributed(t, f,
			signerInput("Alice", aliceWallet),
			RecipientInput{Name: "Carol", Email: "carol@example.com", Role: string(models.RoleViewer)},
		)
		require.Equal(t, models.StatusPending, doc.Status)
	})

	t.Run("links per recipient", func(t *testing.T) {
		doc, _, err := f.docs.Create(ctx, pdfInput(signerInput("Alice", aliceWallet), signerInput("Bob", bobWallet)))
		require.NoError(t, err)
		var recs []models.Recipient
		require.NoError(t, f.db.Where("document_id = ?", doc.ID).Find(&recs).Error)
		for _, r := range recs {
			_, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: r.ID, Type: models.FieldSignature, X: 10, Y: 10, Width: 30, Height: 6}})
			require.NoError(t, err)
		}

		links, err := f.docs.Distribute(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, links, 2)
		for _, link := range links {
			require.True(t, strings.HasPrefix(link, "https://sign.test/sign/"))
		}

		_, err = f.docs.Distribute(ctx, doc.ID)
		require.True(t, httperr.IsKind(err, httperr.KindStateConflict))
	})

	t.Run("recipient numbering survives equal timestamps", func(t *testing.T) {
		doc, _, err := f.docs.Create(ctx, pdfInput(
			signerInput("Alice", aliceWallet),
			signerInput("Bob", bobWallet),
			signerInput("Cara", "0x4444444444444444444444444444444444444444"),
		))
		require.NoError(t, err)

		// rows created in one transaction can share a timestamp; link
		// numbering must not depend on it
		require.NoError(t, f.db.Model(&models.Recipient{}).Where("document_id = ?", doc.ID).
			Update("created_at", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)).Error)

		var recs []models.Recipient
		require.NoError(t, f.db.Where("document_id = ?", doc.ID).Order("created_at ASC, id ASC").Find(&recs).Error)
		for _, r := range recs {
			_, err := f.docs.AddFields(ctx, doc.ID, []FieldInput{{RecipientID: r.ID, Type: models.FieldSignature, X: 10, Y: 10, Width: 30, Height: 6}})
			require.NoError(t, err)
		}

		links, err := f.docs.Distribute(ctx, doc.ID)
		require.NoError(t, err)
		require.Len(t, links, 3)

		for i := 0; i < 3; i++ {
			_, got, _, err := f.docs.Get(ctx, doc.ID)
			require.NoError(t, err)
			require.Len(t, got, 3)
			for n, r := range got {
				require.Equal(t, f.docs.SigningLink(r.AccessToken), links[fmt.Sprintf("recipient_%d", n+1)])
			}
		}
	})
}

func TestCancelTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("pending cancels", func(t *testing.T) {
		doc, _ := createDistributed(t, f, signerInput("Alice", aliceWallet))
		require.NoError(t, f.docs.Cancel(ctx, doc.ID, ownerWallet))

		fresh, err := loadDoc(f, doc.ID)
		require.NoError(t, err)
		require.Equal(t, models.StatusCancelled, fresh.Status)
		require.Nil(t, fresh.CompletedAt)

		require.True(t, httperr.IsKind(f.docs.Cancel(ctx, doc.ID, ownerWallet), httperr.KindStateConflict))
	})

	t.Run("draft does not cancel", func(t *testing.T) {
		doc, _, err := f.docs.Create(ctx, pdfInput(signerInput("Alice", aliceWallet)))
		require.NoError(t, err)
		require.True(t, httperr.IsKind(f.docs.Cancel(ctx, doc.ID, ownerWallet), httperr.KindStateConflict))
	})

	t.Run("completed does not cancel", func(t *testing.T) {
		doc, recs := createDistributed(t, f, signerInput("Alice", aliceWallet))
		signAll(t, f, recs[0])
		_, err := f.signing.Complete(ctx, recs[0].AccessToken, "1.2.3.4", "tester")
		require.NoError(t, err)
		require.True(t, httperr.IsKind(f.docs.Cancel(ctx, doc.ID, ownerWallet), httperr.KindStateConflict))
	})

	t.Run("owner only", func(t *testing.T) {
		doc, _ := createDistributed(t, f, signerInput("Alice", aliceWallet))
		require.True(t, httperr.IsKind(f.docs.Cancel(ctx, doc.ID, aliceWallet), httperr.KindForbidden))
	})
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, recs := createDistributed(t, f, signerInput("Alice", aliceWallet))
	field := fieldsFor(t, f, recs[0].ID)[0]
	require.NoError(t, f.signing.Sign(ctx, recs[0].AccessToken, field.ID, typedReq("Alice A.")))

	t.Run("pending refuses deletion", func(t *testing.T) {
		require.True(t, httperr.IsKind(f.docs.Delete(ctx, doc.ID, ownerWallet), httperr.KindStateConflict))
	})

	t.Run("owner only", func(t *testing.T) {
		require.NoError(t, f.docs.Cancel(ctx, doc.ID, ownerWallet))
		require.True(t, httperr.IsKind(f.docs.Delete(ctx, doc.ID, aliceWallet), httperr.KindForbidden))
	})

	t.Run("cancelled deletes with audit surviving", func(t *testing.T) {
		require.NoError(t, f.docs.Delete(ctx, doc.ID, ownerWallet))

		var count int64
		require.NoError(t, f.db.Model(&models.Document{}).Where("id = ?", doc.ID).Count(&count).Error)
		require.Zero(t, count)
		require.NoError(t, f.db.Model(&models.Recipient{}).Where("document_id = ?", doc.ID).Count(&count).Error)
		require.Zero(t, count)
		require.NoError(t, f.db.Model(&models.Field{}).Where("document_id = ?", doc.ID).Count(&count).Error)
		require.Zero(t, count)
		require.NoError(t, f.db.Model(&models.Signature{}).Count(&count).Error)
		require.Zero(t, count)

		var orphaned int64
		require.NoError(t, f.db.Model(&models.AuditEvent{}).Where("document_id IS NULL").Count(&orphaned).Error)
		require.Greater(t, orphaned, int64(0))
	})
}

func TestDownloadRequiresCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, recs := createDistributed(t, f, signerInput("Alice", aliceWallet))
	_, err := f.docs.Download(ctx, doc.ID)
	require.True(t, httperr.IsKind(err, httperr.KindNotFound))

	signAll(t, f, recs[0])
	res, err := f.signing.Complete(ctx, recs[0].AccessToken, "1.2.3.4", "tester")
	require.NoError(t, err)
	require.True(t, res.DocumentCompleted)

	final, err := f.docs.Download(ctx, doc.ID)
	require.NoError(t, err)
	require.Contains(t, string(final.ArtifactData), "+confirmation")
}

func TestInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pendingDoc, _ := createDistributed(t, f, signerInput("Alice", aliceWallet))
	draftDoc, _, err := f.docs.Create(ctx, pdfInput(signerInput("Alice", aliceWallet)))
	require.NoError(t, err)

	docs, byDoc, err := f.docs.Inbox(ctx, aliceWallet)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, pendingDoc.ID, docs[0].ID)
	require.Contains(t, byDoc, pendingDoc.ID)
	for _, d := range docs {
		require.NotEqual(t, draftDoc.ID, d.ID)
	}

	// once signed the document leaves the inbox
	var rec models.Recipient
	require.NoError(t, f.db.First(&rec, "document_id = ?", pendingDoc.ID).Error)
	signAll(t, f, rec)
	_, err = f.signing.Complete(ctx, rec.AccessToken, "1.2.3.4", "tester")
	require.NoError(t, err)

	docs, _, err = f.docs.Inbox(ctx, aliceWallet)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestCheckAndCompleteRequiresAllSigners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, recs := createDistributed(t, f,
		signerInput("Alice", aliceWallet),
		signerInput("Bob", bobWallet),
	)

	signAll(t, f, recs[0])
	res, err := f.signing.Complete(ctx, recs[0].AccessToken, "1.2.3.4", "tester")
	require.NoError(t, err)
	require.False(t, res.DocumentCompleted)

	fresh, err := loadDoc(f, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, fresh.Status)
	require.Nil(t, fresh.CompletedAt)

	signAll(t, f, recs[1])
	res, err = f.signing.Complete(ctx, recs[1].AccessToken, "5.6.7.8", "tester")
	require.NoError(t, err)
	require.True(t, res.DocumentCompleted)

	fresh, err = loadDoc(f, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, fresh.Status)
	require.NotNil(t, fresh.CompletedAt)
	require.Equal(t, 1, f.renderer.finalizeCalls)

	var events []models.AuditEvent
	require.NoError(t, f.db.Where("document_id = ? AND event_type = ?", doc.ID, models.EventDocumentCompleted).Find(&events).Error)
	require.Len(t, events, 1)
}

func TestRenderFailureLeavesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, recs := createDistributed(t, f, signerInput("Alice", aliceWallet))
	f.renderer.failFinalize = true

	signAll(t, f, recs[0])
	res, err := f.signing.Complete(ctx, recs[0].AccessToken, "1.2.3.4", "tester")
	require.NoError(t, err)
	require.False(t, res.DocumentCompleted)
	require.Equal(t, models.SigningSigned, res.RecipientStatus)

	fresh, err := loadDoc(f, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, fresh.Status)

	// once the backend recovers a later check finalizes the document
	f.renderer.failFinalize = false
	done, err := f.docs.CheckAndComplete(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, done)

	fresh, err = loadDoc(f, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, fresh.Status)
	require.NotNil(t, fresh.CompletedAt)
}

// signAll signs every field assigned to the recipient with a typed
// signature or a plain value.
func signAll(t *testing.T, f *fixture, rec models.Recipient) {
	t.Helper()
	ctx := context.Background()
	for _, field := range fieldsFor(t, f, rec.ID) {
		var req SignRequest
		if field.FieldType.IsSignatureClass() {
			req = typedReq(rec.Name)
		} else {
			req = SignRequest{Value: []byte(`"filled"`)}
		}
		require.NoError(t, f.signing.Sign(ctx, rec.AccessToken, field.ID, req))
	}
}

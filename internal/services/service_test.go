package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus88/soulbound-signature/internal/db"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"github.com/prometheus88/soulbound-signature/internal/identity"
	"github.com/prometheus88/soulbound-signature/internal/payment"
	"github.com/prometheus88/soulbound-signature/internal/render"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// stubRenderer stands in for the PDF pipeline so lifecycle tests exercise
// the state machine without touching real artifacts.
type stubRenderer struct {
	failFinalize  bool
	finalizeCalls int
	lastInput     render.FinalizeInput
}

func (r *stubRenderer) FromMarkup(title, body string) ([]byte, error) {
	return []byte("%PDF-stub " + title), nil
}

func (r *stubRenderer) Finalize(in render.FinalizeInput) ([]byte, error) {
	r.finalizeCalls++
	r.lastInput = in
	if r.failFinalize {
		return nil, errors.New("render backend down")
	}
	out := append([]byte{}, in.Artifact...)
	return append(out, []byte(" +confirmation")...), nil
}

// stubOracle serves verified-identity claims from a fixed map and can be
// flipped into an unreachable state.
type stubOracle struct {
	identities map[string][]identity.VerifiedIdentity
	err        error
}

func (o *stubOracle) ListVerifiedIdentities(_ context.Context, wallet string) ([]identity.VerifiedIdentity, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.identities[wallet], nil
}

func (o *stubOracle) VerifyNameForWallet(_ context.Context, wallet, claimedName, credentialID string) (identity.Verification, error) {
	if o.err != nil {
		return identity.Verification{}, o.err
	}
	if id, ok := identity.MatchClaim(o.identities[wallet], claimedName, credentialID); ok {
		return identity.Verification{Verified: true, CredentialID: id.CredentialID, FullName: id.FullName}, nil
	}
	return identity.Verification{Verified: false, Reason: "no matching approved credential"}, nil
}

type fixture struct {
	db       *gorm.DB
	docs     *DocumentService
	signing  *SigningService
	renderer *stubRenderer
	oracle   *stubOracle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := newTestDB(t)
	renderer := &stubRenderer{}
	oracle := &stubOracle{identities: map[string][]identity.VerifiedIdentity{}}
	logger := zap.NewNop()
	collector := metrics.NewMetricsCollector()
	docs := NewDocumentService(gdb, renderer, "https://sign.test", logger, collector)
	signing := NewSigningService(gdb, oracle, docs, logger, collector)
	return &fixture{db: gdb, docs: docs, signing: signing, renderer: renderer, oracle: oracle}
}

const (
	ownerWallet = "0x1111111111111111111111111111111111111111"
	aliceWallet = "0x2222222222222222222222222222222222222222"
	bobWallet   = "0x3333333333333333333333333333333333333333"
)

func settled() *payment.SettledPayment {
	return &payment.SettledPayment{
		TxHash:  "0xfeedbeef",
		Payer:   ownerWallet,
		Amount:  "1000000",
		Network: "base-sepolia",
	}
}

func pdfInput(recipients ...RecipientInput) CreateDocumentInput {
	return CreateDocumentInput{
		Title:      "Service Agreement",
		Format:     FormatPDF,
		PDFData:    []byte("%PDF-1.4 source"),
		Recipients: recipients,
		Payment:    settled(),
	}
}

func signerInput(name, wallet string) RecipientInput {
	return RecipientInput{Name: name, WalletAddress: wallet, Role: string(models.RoleSigner)}
}

// createDistributed creates a PDF document with one signature field per
// signer and moves it to pending. Returns the document and its recipients
// in creation order.
func createDistributed(t *testing.T, f *fixture, recipients ...RecipientInput) (*models.Document, []models.Recipient) {
	t.Helper()
	ctx := context.Background()

	doc, _, err := f.docs.Create(ctx, pdfInput(recipients...))
	require.NoError(t, err)

	var recs []models.Recipient
	require.NoError(t, f.db.Where("document_id = ?", doc.ID).Order("created_at ASC, id ASC").Find(&recs).Error)
	require.Len(t, recs, len(recipients))

	var inputs []FieldInput
	for _, r := range recs {
		if r.Role != models.RoleSigner {
			continue
		}
		inputs = append(inputs, FieldInput{
			RecipientID: r.ID,
			Type:        models.FieldSignature,
			Page:        1,
			X:           10, Y: 20, Width: 30, Height: 6,
		})
	}
	if len(inputs) > 0 {
		_, err = f.docs.AddFields(ctx, doc.ID, inputs)
		require.NoError(t, err)
	}

	_, err = f.docs.Distribute(ctx, doc.ID)
	require.NoError(t, err)

	doc, err = loadDoc(f, doc.ID)
	require.NoError(t, err)
	return doc, recs
}

func loadDoc(f *fixture, id string) (*models.Document, error) {
	var doc models.Document
	err := f.db.First(&doc, "id = ?", id).Error
	return &doc, err
}

func fieldsFor(t *testing.T, f *fixture, recipientID string) []models.Field {
	t.Helper()
	var fields []models.Field
	require.NoError(t, f.db.Where("recipient_id = ?", recipientID).Find(&fields).Error)
	return fields
}

func typedReq(name string) SignRequest {
	return SignRequest{TypedSignature: &name}
}

package render

import (
	"fmt"
	"strings"

	"github.com/prometheus88/soulbound-signature/internal/db/models"
)

// Placement is a field box resolved to absolute page points. PDF user
// space has its origin at the bottom-left corner, so Y is measured from
// the bottom while field positions are percentages from the top.
type Placement struct {
	X      float64 // left edge, points from page left
	Y      float64 // bottom edge, points from page bottom
	Width  float64
	Height float64
}

// ComputePlacement converts percentage-of-page coordinates into absolute
// points for a page of the given dimensions.
func ComputePlacement(f models.Field, pageWidth, pageHeight float64) Placement {
	w := f.Width / 100 * pageWidth
	h := f.Height / 100 * pageHeight
	x := f.PosX / 100 * pageWidth
	topY := f.PosY / 100 * pageHeight
	return Placement{
		X:      x,
		Y:      pageHeight - topY - h,
		Width:  w,
		Height: h,
	}
}

// fontPointsForHeight sizes text to fit within a field box height.
func fontPointsForHeight(heightPt float64) int {
	pts := int(heightPt * 0.55)
	if pts < 6 {
		pts = 6
	}
	if pts > 14 {
		pts = 14
	}
	return pts
}

// wrapText word-wraps s to fit a box width at the given font size,
// assuming the average Helvetica glyph is about half the font size wide.
// Long unbreakable runs (signature bytes, digests) are hard-split.
func wrapText(s string, widthPt float64, fontPts int) []string {
	maxChars := int(widthPt / (float64(fontPts) * 0.5))
	if maxChars < 8 {
		maxChars = 8
	}

	var lines []string
	for _, raw := range strings.Split(s, "\n") {
		words := strings.Fields(raw)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, word := range words {
			for len(word) > maxChars {
				if current != "" {
					lines = append(lines, current)
					current = ""
				}
				lines = append(lines, word[:maxChars])
				word = word[maxChars:]
			}
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= maxChars:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

func truncateMiddle(s string, max int) string {
	if len(s) <= max || max < 8 {
		return s
	}
	half := (max - 3) / 2
	return s[:half] + "..." + s[len(s)-half:]
}

// walletProofLines renders the cryptographic proof block body: wallet
// identity, document digest, then the raw signature bytes. The block grows
// downward when the wrapped content exceeds the nominal field height.
func walletProofLines(sig *models.Signature, widthPt float64, fontPts int) []string {
	lines := []string{"Wallet-signed"}
	if sig.WalletAddress != nil {
		lines = append(lines, "Signer: "+truncateMiddle(*sig.WalletAddress, 24))
	}
	if sig.DocumentDigest != nil {
		lines = append(lines, wrapText("Digest: "+*sig.DocumentDigest, widthPt, fontPts)...)
	}
	if sig.WalletSignature != nil {
		lines = append(lines, wrapText("Sig: "+*sig.WalletSignature, widthPt, fontPts)...)
	}
	return lines
}

// fieldLines renders a signed field's textual representation. Drawn image
// signatures are handled separately as image stamps and return nil here.
func fieldLines(f models.Field, sig *models.Signature, widthPt float64, fontPts int) []string {
	if sig == nil {
		if f.Value != nil {
			return wrapText(*f.Value, widthPt, fontPts)
		}
		return nil
	}

	switch {
	case sig.VerifiedName != nil:
		lines := []string{*sig.VerifiedName, "Identity-verified"}
		if sig.VerifiedCredentialID != nil {
			lines = append(lines, "Credential: "+truncateMiddle(*sig.VerifiedCredentialID, 24))
		}
		if sig.WalletSignature != nil {
			lines = append(lines, walletProofLines(sig, widthPt, fontPts)...)
		} else {
			lines = append(lines, wrapText("No cryptographic proof accompanies this verified name", widthPt, fontPts)...)
		}
		return lines
	case sig.WalletSignature != nil:
		return walletProofLines(sig, widthPt, fontPts)
	case sig.TypedSignature != nil:
		return wrapText(*sig.TypedSignature, widthPt, fontPts)
	case sig.SignatureImage != nil:
		return nil
	default:
		if f.Value != nil {
			return wrapText(*f.Value, widthPt, fontPts)
		}
		return nil
	}
}

// confirmationRow is one signer's line set on the confirmation record.
func confirmationRow(r models.Recipient, sigs []*models.Signature) []string {
	badge := "none"
	representation := ""
	for _, s := range sigs {
		switch s.Method() {
		case "identity-verified":
			badge = "identity-verified"
		case "cryptographic":
			if badge == "none" {
				badge = "cryptographic"
			}
		}
		if representation == "" {
			switch {
			case s.VerifiedName != nil:
				representation = *s.VerifiedName
			case s.WalletSignature != nil && s.WalletAddress != nil:
				representation = truncateMiddle(*s.WalletAddress, 20)
			case s.TypedSignature != nil:
				representation = *s.TypedSignature
			case s.SignatureImage != nil:
				representation = "[drawn signature]"
			}
		}
	}

	signedAt := "-"
	if r.SignedAt != nil {
		signedAt = r.SignedAt.UTC().Format("2006-01-02 15:04:05 UTC")
	}
	origin := "-"
	if r.OriginIP != nil {
		origin = *r.OriginIP
	}

	return []string{
		r.Name,
		fmt.Sprintf("  Verification: %s", badge),
		fmt.Sprintf("  Signature: %s", representation),
		fmt.Sprintf("  Signed at: %s", signedAt),
		fmt.Sprintf("  Origin IP: %s", origin),
	}
}

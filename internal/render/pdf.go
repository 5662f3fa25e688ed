package render

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"runtime"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

const (
	pageWidthPt  = 595.0 // A4 portrait
	pageHeightPt = 842.0
	pageMarginPt = 50.0
	bodyFontPts  = 11
	linesPerPage = 48
)

// PDFRenderer renders artifacts with pdfcpu. Every call builds a fresh
// pdfcpu configuration so no render state is shared across documents.
type PDFRenderer struct {
	logger *zap.Logger
}

func NewPDFRenderer(logger *zap.Logger) *PDFRenderer {
	return &PDFRenderer{logger: logger.With(zap.String("component", "pdf_renderer"))}
}

func (r *PDFRenderer) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// FromMarkup lays the markup's text content out onto A4 pages. Field
// placement tags contribute no text; their boxes are filled at signing and
// finalization time.
func (r *PDFRenderer) FromMarkup(title, body string) ([]byte, error) {
	text := extractText(body)
	lines := wrapText(text, pageWidthPt-2*pageMarginPt, bodyFontPts)

	pages := map[string]any{}
	pageNum := 0
	for start := 0; start == 0 || start < len(lines); start += linesPerPage {
		pageNum++
		end := start + linesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		var texts []map[string]any
		y := pageHeightPt - pageMarginPt
		if pageNum == 1 && title != "" {
			texts = append(texts, textEntry(title, pageMarginPt, y, 16))
			y -= 30
		}
		for _, line := range lines[start:end] {
			texts = append(texts, textEntry(line, pageMarginPt, y, bodyFontPts))
			y -= float64(bodyFontPts) + 4
		}
		pages[fmt.Sprintf("%d", pageNum)] = map[string]any{
			"paper":   "A4",
			"content": map[string]any{"text": texts},
		}
	}

	spec, err := json.Marshal(map[string]any{"pages": pages})
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := api.Create(nil, bytes.NewReader(spec), &out, r.conf()); err != nil {
		return nil, fmt.Errorf("markup page creation failed: %w", err)
	}
	return out.Bytes(), nil
}

// Finalize stamps every inserted field value onto its page and appends the
// confirmation record pages.
func (r *PDFRenderer) Finalize(input FinalizeInput) ([]byte, error) {
	conf := r.conf()
	rs := bytes.NewReader(input.Artifact)

	pageCount, err := api.PageCount(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("page count failed: %w", err)
	}
	if _, err := rs.Seek(0, 0); err != nil {
		return nil, err
	}
	dims, err := api.PageDims(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("page dims failed: %w", err)
	}
	if _, err := rs.Seek(0, 0); err != nil {
		return nil, err
	}

	wmMap, err := r.buildWatermarks(input, pageCount, dims)
	if err != nil {
		return nil, err
	}

	stamped := input.Artifact
	if len(wmMap) > 0 {
		var buf bytes.Buffer
		if err := api.AddWatermarksSliceMap(rs, &buf, wmMap, conf); err != nil {
			return nil, fmt.Errorf("field stamping failed: %w", err)
		}
		stamped = buf.Bytes()
	}

	return r.appendConfirmation(stamped, input)
}

// buildWatermarks assembles per-page watermark batches. Construction per
// field is independent, so it runs under a bounded errgroup with the map
// merge serialized; page order inside a batch follows field order to keep
// output deterministic.
func (r *PDFRenderer) buildWatermarks(input FinalizeInput, pageCount int, dims []types.Dim) (map[int][]*model.Watermark, error) {
	type placed struct {
		index int
		page  int
		wm    *model.Watermark
	}

	var mu sync.Mutex
	var all []placed

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for i, f := range input.Fields {
		if !f.Inserted || f.Page < 1 || f.Page > pageCount {
			continue
		}
		i, f := i, f
		g.Go(func() error {
			pw, ph := pageWidthPt, pageHeightPt
			if f.Page <= len(dims) {
				pw, ph = dims[f.Page-1].Width, dims[f.Page-1].Height
			}
			wm, err := r.fieldWatermark(f, input.Signatures[f.ID], pw, ph)
			if err != nil {
				return err
			}
			if wm == nil {
				return nil
			}
			mu.Lock()
			all = append(all, placed{index: i, page: f.Page, wm: wm})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// stable order despite concurrent construction
	wmMap := make(map[int][]*model.Watermark)
	for i := 0; i < len(input.Fields); i++ {
		for _, p := range all {
			if p.index == i {
				wmMap[p.page] = append(wmMap[p.page], p.wm)
			}
		}
	}
	return wmMap, nil
}

func (r *PDFRenderer) fieldWatermark(f models.Field, sig *models.Signature, pageWidth, pageHeight float64) (*model.Watermark, error) {
	box := ComputePlacement(f, pageWidth, pageHeight)

	if sig != nil && sig.SignatureImage != nil {
		return imageWatermark(*sig.SignatureImage, box)
	}

	fontPts := fontPointsForHeight(box.Height)
	lines := fieldLines(f, sig, box.Width, fontPts)
	if len(lines) == 0 {
		return nil, nil
	}
	// multi-line proof blocks grow downward past the nominal box height
	desc := fmt.Sprintf("fontname:Helvetica, points:%d, pos:bl, off:%.1f %.1f, rot:0, scale:1 abs, fillcol:#1a1a1a, op:1",
		fontPts, box.X+box.Width/2, box.Y+box.Height/2)
	return api.TextWatermark(strings.Join(lines, "\n"), desc, true, false, types.POINTS)
}

// imageWatermark embeds a drawn signature scaled to fit the field box while
// preserving aspect ratio, centered in the box.
func imageWatermark(b64 string, box Placement) (*model.Watermark, error) {
	payload := b64
	if idx := strings.Index(payload, ","); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("signature image decode failed: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("signature image unreadable: %w", err)
	}
	imgW, imgH := float64(cfg.Width), float64(cfg.Height)
	if imgW <= 0 || imgH <= 0 {
		return nil, fmt.Errorf("signature image has no dimensions")
	}

	scale := box.Width / imgW
	if s := box.Height / imgH; s < scale {
		scale = s
	}
	drawnW, drawnH := imgW*scale, imgH*scale
	offX := box.X + (box.Width-drawnW)/2
	offY := box.Y + (box.Height-drawnH)/2

	desc := fmt.Sprintf("pos:bl, off:%.1f %.1f, rot:0, scale:%.4f abs, op:1", offX, offY, scale)
	return api.ImageWatermarkForReader(bytes.NewReader(raw), desc, true, false, types.POINTS)
}

// appendConfirmation appends the tabular signing summary, one row block per
// signer, paginated as needed.
func (r *PDFRenderer) appendConfirmation(artifact []byte, input FinalizeInput) ([]byte, error) {
	sigsByRecipient := make(map[string][]*models.Signature)
	for _, s := range input.Signatures {
		if s != nil {
			sigsByRecipient[s.RecipientID] = append(sigsByRecipient[s.RecipientID], s)
		}
	}

	var lines []string
	for _, rec := range input.Recipients {
		if rec.Role != models.RoleSigner {
			continue
		}
		lines = append(lines, confirmationRow(rec, sigsByRecipient[rec.ID])...)
		lines = append(lines, "")
	}

	pageCount, err := api.PageCount(bytes.NewReader(artifact), r.conf())
	if err != nil {
		return nil, fmt.Errorf("page count failed: %w", err)
	}

	pages := map[string]any{}
	pageNum := pageCount
	for start := 0; start == 0 || start < len(lines); start += linesPerPage {
		pageNum++
		end := start + linesPerPage
		if end > len(lines) {
			end = len(lines)
		}
		texts := []map[string]any{
			textEntry("Signing Confirmation - "+input.Title, pageMarginPt, pageHeightPt-pageMarginPt, 14),
		}
		y := pageHeightPt - pageMarginPt - 30
		for _, line := range lines[start:end] {
			texts = append(texts, textEntry(line, pageMarginPt, y, 10))
			y -= 14
		}
		pages[fmt.Sprintf("%d", pageNum)] = map[string]any{
			"paper":   "A4",
			"content": map[string]any{"text": texts},
		}
	}

	spec, err := json.Marshal(map[string]any{"pages": pages})
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := api.Create(bytes.NewReader(artifact), bytes.NewReader(spec), &out, r.conf()); err != nil {
		return nil, fmt.Errorf("confirmation page creation failed: %w", err)
	}
	return out.Bytes(), nil
}

func textEntry(value string, x, y float64, points int) map[string]any {
	return map[string]any{
		"value": value,
		"pos":   []float64{x, y},
		"font":  map[string]any{"name": "Helvetica", "size": points},
	}
}

// extractText pulls the visible text out of document markup, skipping
// scripts, styles and field placement tags.
func extractText(body string) string {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "sign-field":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

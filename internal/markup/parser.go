package markup

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus88/soulbound-signature/internal/db/models"
	"golang.org/x/net/html"
)

// FieldTag is the element name recognized as a field placement directive
// inside document markup.
const FieldTag = "sign-field"

// Warning records a recoverable problem found while parsing field markup.
// Malformed tags never fail the whole parse.
type Warning struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// ParseFields scans markup for <sign-field> elements and builds Field
// records bound to the already-created recipients. The recipient attribute
// is a 1-based ordinal into recipients. Y placement is best effort: fields
// without an explicit y are laid out top to bottom in document order; true
// coordinates are reconciled at finalization time.
func ParseFields(body string, recipients []models.Recipient) ([]models.Field, []Warning) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, []Warning{{Tag: FieldTag, Message: "unparseable markup: " + err.Error()}}
	}

	var fields []models.Field
	var warnings []Warning
	autoY := 10.0

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == FieldTag {
			field, warns := buildField(n, recipients, &autoY)
			warnings = append(warnings, warns...)
			if field != nil {
				fields = append(fields, *field)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return fields, warnings
}

func attrMap(n *html.Node) map[string]string {
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[strings.ToLower(a.Key)] = a.Val
	}
	return m
}

func buildField(n *html.Node, recipients []models.Recipient, autoY *float64) (*models.Field, []Warning) {
	attrs := attrMap(n)

	fieldType := models.FieldType(strings.TrimSpace(attrs["type"]))
	if !models.ValidFieldType(fieldType) {
		return nil, []Warning{{Tag: FieldTag, Message: "unknown field type " + strconv.Quote(string(fieldType))}}
	}

	ordinal, err := strconv.Atoi(strings.TrimSpace(attrs["recipient"]))
	if err != nil || ordinal < 1 || ordinal > len(recipients) {
		return nil, []Warning{{Tag: FieldTag, Message: "unresolved recipient ordinal " + strconv.Quote(attrs["recipient"])}}
	}
	recipient := recipients[ordinal-1]

	field := &models.Field{
		ID:          uuid.New().String(),
		DocumentID:  recipient.DocumentID,
		RecipientID: recipient.ID,
		FieldType:   fieldType,
		Page:        intAttr(attrs, "page", 1),
		PosX:        floatAttr(attrs, "x", 10),
		Width:       floatAttr(attrs, "width", 20),
		Height:      floatAttr(attrs, "height", 6),
	}

	if y, ok := attrs["y"]; ok {
		field.PosY = parseFloat(y, *autoY)
	} else {
		field.PosY = *autoY
		*autoY += field.Height + 4
		if *autoY > 95 {
			*autoY = 10
		}
	}

	meta, warns := buildMeta(fieldType, attrs)
	if err := field.EncodeMeta(meta); err != nil {
		warns = append(warns, Warning{Tag: FieldTag, Message: "meta encoding failed: " + err.Error()})
	}
	return field, warns
}

// buildMeta assembles a sparse meta object from the attributes actually
// present. A bad values JSON array on a selection field drops the options
// with a warning instead of failing the field.
func buildMeta(fieldType models.FieldType, attrs map[string]string) (models.FieldMeta, []Warning) {
	var meta models.FieldMeta
	var warnings []Warning

	if v, ok := attrs["placeholder"]; ok {
		meta.Placeholder = v
	}
	if v, ok := attrs["required"]; ok {
		meta.Required = v == "" || v == "true" || v == "required"
	}
	if v, ok := attrs["char-limit"]; ok {
		if limit, err := strconv.Atoi(v); err == nil {
			meta.CharLimit = limit
		}
	}
	if v, ok := attrs["min"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta.Min = &f
		}
	}
	if v, ok := attrs["max"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			meta.Max = &f
		}
	}
	if v, ok := attrs["format"]; ok {
		meta.Format = v
	}
	if v, ok := attrs["direction"]; ok {
		meta.Direction = v
	}
	if v, ok := attrs["default"]; ok {
		meta.Default = v
	}

	if v, ok := attrs["values"]; ok {
		var options []models.FieldOption
		if err := json.Unmarshal([]byte(v), &options); err != nil {
			switch fieldType {
			case models.FieldCheckbox, models.FieldRadio, models.FieldDropdown:
				warnings = append(warnings, Warning{
					Tag:     FieldTag,
					Message: "invalid values JSON for " + string(fieldType) + " field, options dropped",
				})
			}
		} else {
			meta.Options = options
		}
	}

	return meta, warnings
}

func intAttr(attrs map[string]string, key string, fallback int) int {
	if v, ok := attrs[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func floatAttr(attrs map[string]string, key string, fallback float64) float64 {
	if v, ok := attrs[key]; ok {
		return parseFloat(v, fallback)
	}
	return fallback
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 || f > 100 {
		return fallback
	}
	return f
}

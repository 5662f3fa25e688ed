package models

import (
	"encoding/json"
)

type FieldType string

const (
	FieldSignature     FieldType = "signature"
	FieldFreeSignature FieldType = "free-signature"
	FieldInitial       FieldType = "initial"
	FieldName          FieldType = "name"
	FieldEmail         FieldType = "email"
	FieldDate          FieldType = "date"
	FieldText          FieldType = "text"
	FieldNumber        FieldType = "number"
	FieldCheckbox      FieldType = "checkbox"
	FieldRadio         FieldType = "radio"
	FieldDropdown      FieldType = "dropdown"
)

// ValidFieldType reports whether t is one of the recognized field types.
func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldSignature, FieldFreeSignature, FieldInitial, FieldName,
		FieldEmail, FieldDate, FieldText, FieldNumber, FieldCheckbox,
		FieldRadio, FieldDropdown:
		return true
	}
	return false
}

// IsSignatureClass reports whether t takes a signature payload rather than
// a plain value. Signature-class fields are always required for completion.
func (t FieldType) IsSignatureClass() bool {
	return t == FieldSignature || t == FieldFreeSignature || t == FieldInitial
}

// FieldOption is one selectable choice of a checkbox/radio/dropdown field.
type FieldOption struct {
	ID    string `json:"id,omitempty"`
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// FieldMeta carries the type-dependent attributes of a field. Only the
// attributes actually provided are set; everything else stays zero and is
// omitted from the stored JSON.
type FieldMeta struct {
	Placeholder string        `json:"placeholder,omitempty"`
	Required    bool          `json:"required,omitempty"`
	CharLimit   int           `json:"charLimit,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Format      string        `json:"format,omitempty"`
	Options     []FieldOption `json:"options,omitempty"`
	Direction   string        `json:"direction,omitempty"`
	Default     string        `json:"default,omitempty"`
}

// Field is a placed, typed placeholder on a document page. Position and
// size are percentages of the page (0-100). Value/Inserted are owned by
// the signing engine.
type Field struct {
	ID          string    `gorm:"primaryKey"`
	DocumentID  string    `gorm:"index;not null"`
	RecipientID string    `gorm:"index;not null"`
	FieldType   FieldType `gorm:"not null"`
	Page        int       `gorm:"not null;default:1"`
	PosX        float64
	PosY        float64
	Width       float64
	Height      float64
	Value       *string
	Meta        string `gorm:"type:json"`
	Inserted    bool   `gorm:"not null;default:false"`
}

// DecodeMeta unmarshals the stored meta JSON. An empty column yields the
// zero FieldMeta.
func (f *Field) DecodeMeta() (FieldMeta, error) {
	var m FieldMeta
	if f.Meta == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(f.Meta), &m)
	return m, err
}

// EncodeMeta stores m on the field as JSON.
func (f *Field) EncodeMeta(m FieldMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	f.Meta = string(b)
	return nil
}

package model

import "time"

// FieldType is the kind of input a form field renders
type FieldType string

const (
	FieldText            FieldType = "text"
	FieldEmail           FieldType = "email"
	FieldPassword        FieldType = "password"
	FieldTel             FieldType = "tel"
	FieldTextarea        FieldType = "textarea"
	FieldNumber          FieldType = "number"
	FieldSelect          FieldType = "select"
	FieldRadio           FieldType = "radio"
	FieldCheckbox        FieldType = "checkbox"
	FieldDate            FieldType = "date"
	FieldCountry         FieldType = "country"
	FieldFile            FieldType = "file"
	FieldHidden          FieldType = "hidden"
	FieldReadonly        FieldType = "readonly"
	FieldSocialName      FieldType = "social_name"
	FieldBestellnummerID FieldType = "bestellnummer_id"
)

// RuleType is the kind of validation rule attached to a field
type RuleType string

const (
	RuleRequired RuleType = "required"
	RuleMin      RuleType = "min"
	RuleMax      RuleType = "max"
	RulePattern  RuleType = "pattern"
	RuleEmail    RuleType = "email"
	RulePhone    RuleType = "phone"
)

// Well-known payload keys the pipeline depends on regardless of form configuration
const (
	FieldKeySocialName = "social_name"
	FieldKeyEmail      = "email"
	FieldKeyFirstName  = "firstName"
	FieldKeyLastName   = "lastName"
	FieldKeyPhone      = "phone"
	FieldKeyHoneypot   = "honeypot"
)

// Form is a tenant-scoped registration form
type Form struct {
	ID        string       `json:"id" yaml:"id"`
	TenantID  string       `json:"tenant_id" yaml:"tenant_id"`
	Name      string       `json:"name" yaml:"name"`
	Slug      string       `json:"slug" yaml:"slug"`
	Fields    []Field      `json:"fields" yaml:"fields"`
	Settings  FormSettings `json:"settings" yaml:"settings"`
	Active    bool         `json:"active" yaml:"active"`
	CreatedAt time.Time    `json:"created_at" yaml:"-"`
	UpdatedAt time.Time    `json:"updated_at" yaml:"-"`
}

// Field describes one input of a form
type Field struct {
	ID         string    `json:"id" yaml:"id"`
	Type       FieldType `json:"type" yaml:"type"`
	Label      string    `json:"label" yaml:"label"`
	Required   bool      `json:"required" yaml:"required"`
	Options    []string  `json:"options,omitempty" yaml:"options"`
	Validation []Rule    `json:"validation,omitempty" yaml:"validation"`
}

// Rule is a single validation constraint on a field
type Rule struct {
	Type    RuleType `json:"type" yaml:"type"`
	Value   any      `json:"value,omitempty" yaml:"value"`
	Message string   `json:"message" yaml:"message"`
}

// FormSettings holds submission-relevant form options
type FormSettings struct {
	Honeypot bool   `json:"honeypot" yaml:"honeypot"`
	Locale   string `json:"locale,omitempty" yaml:"locale"`
}

// ServerOwned reports whether the field value is assigned by the service, not the submitter
func (f Field) ServerOwned() bool {
	return f.Type == FieldBestellnummerID || f.Type == FieldReadonly
}

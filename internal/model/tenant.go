package model

import "time"

const (
	// DefaultIdentifierLength is used when a tenant has not configured a digit length
	DefaultIdentifierLength = 5
	// MinIdentifierLength is the shortest allowed digit length
	MinIdentifierLength = 4
	// MaxIdentifierLength is the longest allowed digit length
	MaxIdentifierLength = 10
	// DefaultRateLimit is the per-client submission limit per window
	DefaultRateLimit = 10
)

// Tenant represents a shop and the settings the submission pipeline reads
type Tenant struct {
	ID          string         `json:"id" yaml:"id"`
	Shop        string         `json:"shop" yaml:"shop"`
	AccessToken string         `json:"-" yaml:"access_token"`
	Settings    TenantSettings `json:"settings" yaml:"settings"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
}

// TenantSettings is the per-shop configuration snapshot
type TenantSettings struct {
	BestellIDLength int            `json:"bestellIdLength" yaml:"bestell_id_length"`
	BestellIDPrefix string         `json:"bestellIdPrefix" yaml:"bestell_id_prefix"`
	BestellIDSuffix string         `json:"bestellIdSuffix" yaml:"bestell_id_suffix"`
	RateLimit       int            `json:"rateLimit" yaml:"rate_limit"`
	EmailEnabled    bool           `json:"emailEnabled" yaml:"email_enabled"`
	EmailTemplate   *EmailTemplate `json:"emailTemplate,omitempty" yaml:"email_template"`
	WebhookURL      string         `json:"webhookUrl" yaml:"webhook_url"`
	Locale          string         `json:"locale,omitempty" yaml:"locale"`
}

// EmailTemplate holds the subject and body of a confirmation email.
// Both may contain {{placeholder}} variables.
type EmailTemplate struct {
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// IdentifierShape describes how Bestellnummer IDs are drawn for a tenant
type IdentifierShape struct {
	Length int
	Prefix string
	Suffix string
}

// Shape returns the identifier shape with defaults applied
func (s TenantSettings) Shape() IdentifierShape {
	length := s.BestellIDLength
	if length == 0 {
		length = DefaultIdentifierLength
	}
	return IdentifierShape{
		Length: length,
		Prefix: s.BestellIDPrefix,
		Suffix: s.BestellIDSuffix,
	}
}

// EffectiveRateLimit returns the configured limit or the default
func (s TenantSettings) EffectiveRateLimit() int {
	if s.RateLimit <= 0 {
		return DefaultRateLimit
	}
	return s.RateLimit
}

// HasExternalAuthority reports whether the tenant has credentials for the customer directory
func (t *Tenant) HasExternalAuthority() bool {
	return t.Shop != "" && t.AccessToken != ""
}

// Valid reports whether the shape can be drawn from
func (s IdentifierShape) Valid() bool {
	return s.Length >= MinIdentifierLength && s.Length <= MaxIdentifierLength
}

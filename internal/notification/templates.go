// Package notification renders and delivers post-submission emails and webhooks.
package notification

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/language"

	"github.com/tzomaik-art/form-builder/internal/model"
)

// Variables are the placeholder values available to templates
type Variables struct {
	SocialName     string
	BestellID      string
	Email          string
	FirstName      string
	LastName       string
	StoreName      string
	FormSubmission string
}

// NewVariables collects template variables for a persisted submission
func NewVariables(tenant *model.Tenant, sub *model.Submission, firstName, lastName string) Variables {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	return Variables{
		SocialName:     sub.SocialName,
		BestellID:      sub.BestellID,
		Email:          sub.Email,
		FirstName:      firstName,
		LastName:       lastName,
		StoreName:      tenant.Shop,
		FormSubmission: string(payload),
	}
}

func (v Variables) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{{social_name}}", v.SocialName,
		"{{bestell_id}}", v.BestellID,
		"{{email}}", v.Email,
		"{{first_name}}", v.FirstName,
		"{{last_name}}", v.LastName,
		"{{store_name}}", v.StoreName,
		"{{form_submission}}", v.FormSubmission,
	)
}

// Render substitutes known {{placeholders}}; unknown ones are left as written
func Render(text string, vars Variables) string {
	return vars.replacer().Replace(text)
}

// RenderTemplate renders both subject and body
func RenderTemplate(tmpl model.EmailTemplate, vars Variables) model.EmailTemplate {
	r := vars.replacer()
	return model.EmailTemplate{
		Subject: r.Replace(tmpl.Subject),
		Body:    r.Replace(tmpl.Body),
	}
}

var supportedLocales = []language.Tag{
	language.English, // first entry is the fallback
	language.German,
	language.Greek,
}

var localeMatcher = language.NewMatcher(supportedLocales)

var defaultTemplates = map[language.Tag]model.EmailTemplate{
	language.English: {
		Subject: "Welcome! Your registration is confirmed",
		Body: `Dear {{first_name}},

Thank you for registering with {{store_name}}!

Your details:
- Social Name: {{social_name}}
- Bestellnummer ID: {{bestell_id}}
- Email: {{email}}

Please save your Bestellnummer ID for future reference.

Best regards,
{{store_name}} Team`,
	},
	language.German: {
		Subject: "Willkommen! Ihre Registrierung ist bestätigt",
		Body: `Liebe/r {{first_name}},

Vielen Dank für Ihre Registrierung bei {{store_name}}!

Ihre Daten:
- Social Name: {{social_name}}
- Bestellnummer ID: {{bestell_id}}
- E-Mail: {{email}}

Bitte speichern Sie Ihre Bestellnummer ID für zukünftige Referenz.

Mit freundlichen Grüßen,
{{store_name}} Team`,
	},
	language.Greek: {
		Subject: "Καλώς ήρθατε! Η εγγραφή σας επιβεβαιώθηκε",
		Body: `Αγαπητέ/ή {{first_name}},

Σας ευχαριστούμε για την εγγραφή σας στο {{store_name}}!

Τα στοιχεία σας:
- Social Name: {{social_name}}
- Bestellnummer ID: {{bestell_id}}
- Email: {{email}}

Παρακαλώ αποθηκεύστε το Bestellnummer ID σας για μελλοντική αναφορά.

Με εκτίμηση,
Η ομάδα {{store_name}}`,
	},
}

// DefaultTemplate returns the built-in template best matching the given
// locale preferences, in order. Empty or unparsable entries are skipped.
func DefaultTemplate(locales ...string) model.EmailTemplate {
	var prefs []language.Tag
	for _, l := range locales {
		if l == "" {
			continue
		}
		if tag, err := language.Parse(l); err == nil {
			prefs = append(prefs, tag)
		}
	}
	_, idx, _ := localeMatcher.Match(prefs...)
	return defaultTemplates[supportedLocales[idx]]
}

// TemplateFor resolves the template to send for a tenant and form
func TemplateFor(tenant *model.Tenant, form *model.Form) model.EmailTemplate {
	if t := tenant.Settings.EmailTemplate; t != nil && (t.Subject != "" || t.Body != "") {
		return *t
	}
	var formLocale string
	if form != nil {
		formLocale = form.Settings.Locale
	}
	return DefaultTemplate(formLocale, tenant.Settings.Locale)
}

// Package validation checks submitted field values against a form's field schema.
package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tzomaik-art/form-builder/internal/errors"
	"github.com/tzomaik-art/form-builder/internal/model"
)

const (
	// MaxFieldLength caps any single string value
	MaxFieldLength = 10000
	// MaxPayloadFields caps the number of keys accepted in one submission
	MaxPayloadFields = 200
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9\s\-().]{5,19}$`)
)

// Validator validates submission payloads
type Validator struct {
	maxFieldLength int
	maxFields      int

	// compiled pattern rules, keyed by expression
	patterns sync.Map
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxFieldLength: MaxFieldLength,
		maxFields:      MaxPayloadFields,
	}
}

// Validate checks payload against form and returns the payload to persist.
// Server-owned fields and the honeypot key are stripped; unknown keys are kept.
func (v *Validator) Validate(form *model.Form, payload map[string]any) (map[string]any, error) {
	if len(payload) > v.maxFields {
		return nil, errors.Validation(fmt.Sprintf("too many fields (max %d)", v.maxFields), nil)
	}

	if form.Settings.Honeypot {
		if s, _ := stringValue(payload[model.FieldKeyHoneypot]); strings.TrimSpace(s) != "" {
			return nil, errors.Validation("Submission rejected", nil)
		}
	}

	fieldErrors := make(map[string]string)
	clean := make(map[string]any, len(payload))
	for k, val := range payload {
		if k == model.FieldKeyHoneypot {
			continue
		}
		clean[k] = val
	}

	for _, field := range form.Fields {
		if field.ServerOwned() {
			delete(clean, field.ID)
			continue
		}
		if msg := v.validateField(field, payload[field.ID]); msg != "" {
			fieldErrors[field.ID] = msg
		}
	}

	if len(fieldErrors) > 0 {
		return nil, errors.Validation("Validation failed", fieldErrors)
	}
	return clean, nil
}

// validateField returns the first failing message for a field, or ""
func (v *Validator) validateField(field model.Field, raw any) string {
	label := field.Label
	if label == "" {
		label = field.ID
	}

	required := field.Required
	for _, rule := range field.Validation {
		if rule.Type == model.RuleRequired {
			required = true
		}
	}

	if isEmpty(raw) {
		if required {
			return ruleMessage(field, model.RuleRequired, label+" is required")
		}
		return ""
	}

	if msg := v.checkType(field, label, raw); msg != "" {
		return msg
	}

	for _, rule := range field.Validation {
		if msg := v.checkRule(field, rule, label, raw); msg != "" {
			return msg
		}
	}
	return ""
}

func (v *Validator) checkType(field model.Field, label string, raw any) string {
	if field.Type == model.FieldCheckbox {
		return checkCheckbox(field, label, raw)
	}

	s, ok := stringValue(raw)
	if !ok {
		return label + " has an invalid value"
	}
	if utf8.RuneCountInString(s) > v.maxFieldLength {
		return fmt.Sprintf("%s must be at most %d characters", label, v.maxFieldLength)
	}

	switch field.Type {
	case model.FieldEmail:
		if !emailPattern.MatchString(strings.TrimSpace(s)) {
			return ruleMessage(field, model.RuleEmail, "Invalid email address")
		}
	case model.FieldTel:
		if !phonePattern.MatchString(strings.TrimSpace(s)) {
			return ruleMessage(field, model.RulePhone, "Invalid phone number")
		}
	case model.FieldNumber:
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return label + " must be a number"
		}
	case model.FieldDate:
		if _, err := time.Parse("2006-01-02", strings.TrimSpace(s)); err != nil {
			return label + " must be a date (YYYY-MM-DD)"
		}
	case model.FieldSelect, model.FieldRadio:
		if len(field.Options) > 0 && !slices.Contains(field.Options, s) {
			return label + " has an invalid option"
		}
	}
	return ""
}

func checkCheckbox(field model.Field, label string, raw any) string {
	switch val := raw.(type) {
	case bool:
		return ""
	case string:
		if len(field.Options) == 0 || slices.Contains(field.Options, val) {
			return ""
		}
	case []any:
		for _, item := range val {
			s, ok := item.(string)
			if !ok || (len(field.Options) > 0 && !slices.Contains(field.Options, s)) {
				return label + " has an invalid option"
			}
		}
		return ""
	}
	return label + " has an invalid option"
}

func (v *Validator) checkRule(field model.Field, rule model.Rule, label string, raw any) string {
	s, _ := stringValue(raw)
	s = strings.TrimSpace(s)

	switch rule.Type {
	case model.RuleMin, model.RuleMax:
		limit, ok := toFloat(rule.Value)
		if !ok {
			return ""
		}
		measure := float64(utf8.RuneCountInString(s))
		unit := " characters"
		if field.Type == model.FieldNumber {
			measure, _ = strconv.ParseFloat(s, 64)
			unit = ""
		}
		if rule.Type == model.RuleMin && measure < limit {
			return withDefault(rule.Message, fmt.Sprintf("%s must be at least %s%s", label, formatLimit(limit), unit))
		}
		if rule.Type == model.RuleMax && measure > limit {
			return withDefault(rule.Message, fmt.Sprintf("%s must be at most %s%s", label, formatLimit(limit), unit))
		}
	case model.RulePattern:
		expr, _ := rule.Value.(string)
		if expr == "" {
			return ""
		}
		re, err := v.compile(expr)
		if err != nil {
			// a broken pattern is a form configuration fault, not the submitter's
			return ""
		}
		if !re.MatchString(s) {
			return withDefault(rule.Message, label+" has an invalid format")
		}
	case model.RuleEmail:
		if !emailPattern.MatchString(s) {
			return withDefault(rule.Message, "Invalid email address")
		}
	case model.RulePhone:
		if !phonePattern.MatchString(s) {
			return withDefault(rule.Message, "Invalid phone number")
		}
	}
	return ""
}

func (v *Validator) compile(expr string) (*regexp.Regexp, error) {
	if cached, ok := v.patterns.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(expr, re)
	return re, nil
}

// ruleMessage returns the field's custom message for ruleType, or fallback
func ruleMessage(field model.Field, ruleType model.RuleType, fallback string) string {
	for _, rule := range field.Validation {
		if rule.Type == ruleType && rule.Message != "" {
			return rule.Message
		}
	}
	return fallback
}

func withDefault(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}

func isEmpty(raw any) bool {
	switch val := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	}
	return false
}

// stringValue renders scalar JSON values as strings
func stringValue(raw any) (string, bool) {
	switch val := raw.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

func toFloat(raw any) (float64, bool) {
	switch val := raw.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}

func formatLimit(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StringField returns the trimmed string value of key, or "" when absent or not a string
func StringField(payload map[string]any, key string) string {
	s, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

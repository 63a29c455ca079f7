package model

import "time"

// Submission is the durable record of a completed registration
type Submission struct {
	ID         string         `json:"id"`
	FormID     string         `json:"form_id"`
	TenantID   string         `json:"tenant_id"`
	CustomerID *string        `json:"customer_id,omitempty"`
	Email      string         `json:"email"`
	SocialName string         `json:"social_name"`
	BestellID  string         `json:"bestell_id"`
	Payload    map[string]any `json:"payload"`
	IPAddress  string         `json:"ip_address"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SubmissionResult is returned to the submitter on success
type SubmissionResult struct {
	SubmissionID string `json:"submissionId"`
	BestellID    string `json:"identifier"`
	SocialName   string `json:"displayName"`
	Email        string `json:"email"`
}

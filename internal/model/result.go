package model

import (
	"encoding/json"
	"time"
)

// Status is the classified outcome of a certificate check
type Status string

const (
	StatusOK              Status = "ok"
	StatusVerifyError     Status = "verify_error"
	StatusConnectionError Status = "connection_error"
	StatusInvalidURL      Status = "invalid_url"
	StatusError           Status = "error"
)

// CheckName identifies the kind of check in reported results
const CheckName = "tls_expiry"

// ExecutedAtLayout is the UTC, second-precision timestamp used in results
const ExecutedAtLayout = "2006-01-02T15:04:05Z"

// CertFields holds the metadata extracted from a leaf certificate
type CertFields struct {
	ExpiryTS        *int64   `json:"expiry_ts,omitempty"`
	NotAfter        string   `json:"not_after"`
	CommonName      string   `json:"common_name"`
	IssuerName      string   `json:"issuer_name"`
	SubjectAltNames []string `json:"subject_alt_names"`
}

// HasExpiry reports whether a positive expiry timestamp was extracted
func (f *CertFields) HasExpiry() bool {
	return f != nil && f.ExpiryTS != nil && *f.ExpiryTS > 0
}

// Result represents the outcome of one job as reported to the controller.
// Certificate fields are present only when a certificate was obtained.
type Result struct {
	ID         JobID  `json:"id"`
	RequestID  string `json:"request_id"`
	Status     Status `json:"status"`
	Error      string `json:"error,omitempty"`
	LatencyMs  *int64 `json:"latency_ms,omitempty"`
	ExecutedAt string `json:"executed_at"`

	*CertFields

	CheckName  string          `json:"check_name"`
	Source     string          `json:"source"`
	Initiator  string          `json:"initiator,omitempty"`
	SiteURL    string          `json:"site_url,omitempty"`
	TargetHost string          `json:"target_host,omitempty"`
	TargetPort int             `json:"target_port,omitempty"`
	Scheme     string          `json:"scheme,omitempty"`
	Context    json.RawMessage `json:"context,omitempty"`
}

// NewResult creates a result skeleton for the given job
func NewResult(job Job) Result {
	return Result{
		ID:        job.ID,
		RequestID: job.RequestID,
		CheckName: CheckName,
		Source:    "agent",
		Initiator: job.Initiator,
		SiteURL:   job.Target.SiteURL,
		Context:   job.Context,
	}
}

// Fail marks the result with a non-ok status. An empty message is replaced
// with the status name so that failed results always carry an error.
func (r *Result) Fail(status Status, message string) {
	if message == "" {
		message = string(status)
	}
	r.Status = status
	r.Error = message
}

// SetLatency records the probe duration in milliseconds
func (r *Result) SetLatency(d time.Duration) {
	ms := d.Milliseconds()
	r.LatencyMs = &ms
}

// SetExecutedAt formats t as the result timestamp
func (r *Result) SetExecutedAt(t time.Time) {
	r.ExecutedAt = t.UTC().Format(ExecutedAtLayout)
}

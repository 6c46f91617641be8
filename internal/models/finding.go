package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the total order used by trend and escalation logic.
// Severities outside the finding vocabulary rank at zero.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps a free-form severity string onto the enum, defaulting to low.
func ParseSeverity(value string) Severity {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info":
		return SeverityInfo
	case "none":
		return SeverityNone
	}
	return SeverityLow
}

// StatusKeyword is the fixed vocabulary describing what is wrong with a service.
type StatusKeyword string

const (
	StatusCrashLoop StatusKeyword = "CrashLoop"
	StatusOOM       StatusKeyword = "OOM"
	StatusImagePull StatusKeyword = "ImagePull"
	StatusPending   StatusKeyword = "Pending"
	StatusUnknown   StatusKeyword = "Unknown"
)

// ParseStatusKeyword normalizes a keyword onto the vocabulary; anything
// unrecognized becomes StatusUnknown.
func ParseStatusKeyword(value string) StatusKeyword {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "crashloop", "crashloopbackoff":
		return StatusCrashLoop
	case "oom", "oomkilled":
		return StatusOOM
	case "imagepull", "imagepullbackoff", "errimagepull":
		return StatusImagePull
	case "pending":
		return StatusPending
	}
	return StatusUnknown
}

// Finding is a single detected issue surfaced by the analyzer during one cycle.
// Immutable once emitted.
type Finding struct {
	Service     string        `json:"service"`
	Namespace   string        `json:"namespace"`
	Severity    Severity      `json:"severity"`
	Status      StatusKeyword `json:"status_keyword"`
	Description string        `json:"description"`
	DetectedAt  time.Time     `json:"detected_at"`
}

// Key derives the cross-cycle identity for the finding.
func (f Finding) Key() IssueKey {
	return IssueKey{Service: NormalizeService(f.Service), Status: f.Status}
}

// IssueKey identifies the same issue across cycles irrespective of
// description text. Two findings are the same issue iff their keys are equal.
type IssueKey struct {
	Service string
	Status  StatusKeyword
}

// NormalizeService lowercases, trims, and collapses inner whitespace so
// cosmetic differences in analyzer output do not split issue identity.
func NormalizeService(service string) string {
	return strings.Join(strings.Fields(strings.ToLower(service)), " ")
}

// String renders the key as service/status.
func (k IssueKey) String() string {
	return k.Service + "/" + string(k.Status)
}

// MarshalText lets IssueKey serve as a JSON map key and set element.
func (k IssueKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the service/status form. Status keywords never
// contain a slash, so the last separator wins.
func (k *IssueKey) UnmarshalText(text []byte) error {
	raw := string(text)
	idx := strings.LastIndex(raw, "/")
	if idx < 0 {
		return fmt.Errorf("malformed issue key %q", raw)
	}
	k.Service = raw[:idx]
	k.Status = StatusKeyword(raw[idx+1:])
	return nil
}

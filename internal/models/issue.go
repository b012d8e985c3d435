package models

import "time"

// IssueType enumerates the closed issue taxonomy. It is intentionally not
// extensible at runtime.
type IssueType string

const (
	IssueResource IssueType = "resource"
	IssueService  IssueType = "service"
	IssueSystem   IssueType = "system"
)

// Severity captures impact levels, ordered from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal position of the severity; unknown values rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity maps a config string to a Severity, defaulting to high.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(value) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(value), true
	}
	return SeverityHigh, false
}

// Issue is an immutable record of a detected deviation from a configured
// health threshold. Issues are created only by detection code and never
// mutated afterwards.
type Issue struct {
	Type        IssueType
	Severity    Severity
	Component   string
	MetricValue float64
	Threshold   float64
	Description string
	Timestamp   time.Time
}

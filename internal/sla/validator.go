package sla

import (
	"fmt"
	"strings"
	"time"
)

// ValidatePolicy checks the fields a caller must supply when creating a
// policy and returns the first problem found.
func ValidatePolicy(p Policy) *ValidationError {
	hasService := strings.TrimSpace(p.ServiceID) != ""
	hasSystem := strings.TrimSpace(p.SystemID) != ""
	if hasService == hasSystem {
		return NewValidationError("serviceId", "exactly one of serviceId or systemId is required")
	}
	if p.TargetPct == 0 {
		return NewValidationError("targetPct", "targetPct is required")
	}
	if p.TargetPct < 0 || p.TargetPct > 100 {
		return NewValidationError("targetPct", fmt.Sprintf("targetPct %v must be in (0, 100]", p.TargetPct))
	}
	if strings.TrimSpace(string(p.Period)) == "" {
		return NewValidationError("period", "period is required")
	}
	if _, err := ParsePeriod(string(p.Period)); err != nil {
		return err.(*ValidationError)
	}
	if _, err := LoadLocation(p.Timezone); err != nil {
		return err.(*ValidationError)
	}
	if p.ActiveTo != nil && !p.ActiveTo.After(p.ActiveFrom) {
		return NewValidationError("activeTo", "activeTo must be after activeFrom")
	}
	return nil
}

// ValidateRange requires both ends of a query range and that from precedes to.
func ValidateRange(from, to *time.Time) *ValidationError {
	if from == nil || to == nil {
		return NewValidationError("from", "Query params 'from' and 'to' are required")
	}
	if !to.After(*from) {
		return NewValidationError("to", "Query param 'to' must be after 'from'")
	}
	return nil
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds.
func ParseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, NewValidationError(field, fmt.Sprintf("Query param '%s' is required", field))
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, NewValidationError(field, fmt.Sprintf("Query param '%s' must be an ISO-8601 timestamp", field))
	}
	return t, nil
}

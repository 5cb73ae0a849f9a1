package domain

import (
	"fmt"
	"strings"
)

// FailureMode decides what a platform failure does to the order
type FailureMode string

const (
	// FailureModeStrict fails the order
	FailureModeStrict FailureMode = "strict"
	// FailureModeBestEffort logs the failure and continues
	FailureModeBestEffort FailureMode = "best-effort"
)

// ParseFailureMode parses a configured mode
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case FailureModeStrict:
		return FailureModeStrict, nil
	case FailureModeBestEffort, "besteffort", "best_effort":
		return FailureModeBestEffort, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q (want strict or best-effort)", s)
	}
}

// UnmarshalText accepts the same spellings as ParseFailureMode, so config
// files and environment variables agree.
func (m *FailureMode) UnmarshalText(text []byte) error {
	mode, err := ParseFailureMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// IsStrict reports whether failures escalate
func (m FailureMode) IsStrict() bool {
	return m == FailureModeStrict
}

// FailureCategory names a group of platform calls sharing a policy
type FailureCategory string

const (
	// CategoryReturnFetch covers reading the returns state
	CategoryReturnFetch FailureCategory = "return_fetch"
	// CategoryReturnSubmit covers fetching fulfillments and submitting the return
	CategoryReturnSubmit FailureCategory = "return_submit"
	// CategoryReturnClose covers closing open returns
	CategoryReturnClose FailureCategory = "return_close"
)

// FailurePolicy sets the failure mode per call category. Order resolution and
// refund submission are always strict.
type FailurePolicy struct {
	ReturnFetch  FailureMode `yaml:"returnFetch" validate:"oneof=strict best-effort"`
	ReturnSubmit FailureMode `yaml:"returnSubmit" validate:"oneof=strict best-effort"`
	ReturnClose  FailureMode `yaml:"returnClose" validate:"oneof=strict best-effort"`
}

// DefaultFailurePolicy tolerates failures in the returns stage and while closing
func DefaultFailurePolicy() FailurePolicy {
	return FailurePolicy{
		ReturnFetch:  FailureModeBestEffort,
		ReturnSubmit: FailureModeBestEffort,
		ReturnClose:  FailureModeBestEffort,
	}
}

// StrictFailurePolicy escalates every platform failure
func StrictFailurePolicy() FailurePolicy {
	return FailurePolicy{
		ReturnFetch:  FailureModeStrict,
		ReturnSubmit: FailureModeStrict,
		ReturnClose:  FailureModeStrict,
	}
}

// ModeFor returns the mode of a category
func (p FailurePolicy) ModeFor(c FailureCategory) FailureMode {
	switch c {
	case CategoryReturnFetch:
		return p.ReturnFetch
	case CategoryReturnSubmit:
		return p.ReturnSubmit
	case CategoryReturnClose:
		return p.ReturnClose
	default:
		return FailureModeStrict
	}
}

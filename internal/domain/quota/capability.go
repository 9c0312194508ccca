// Package quota contains the daily-allowance domain: the enumerated
// quota-gated capabilities, the period resolver that drives lazy rollover,
// and the ledger contract implemented by the persistence layer.
package quota

import (
	"errors"
)

// Capability is an enumerated kind of quota-gated action.
type Capability string

const (
	// CapabilityTextGeneration gates AI text generation requests.
	CapabilityTextGeneration Capability = "text_generation"

	// CapabilityImageGeneration gates AI image generation requests.
	CapabilityImageGeneration Capability = "image_generation"

	// CapabilityQuizEvaluation gates AI-backed quiz answer evaluation.
	CapabilityQuizEvaluation Capability = "quiz_evaluation"
)

// AllCapabilities lists every known capability kind.
var AllCapabilities = []Capability{
	CapabilityTextGeneration,
	CapabilityImageGeneration,
	CapabilityQuizEvaluation,
}

// IsValid reports whether the capability is a known enumerated kind.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityTextGeneration, CapabilityImageGeneration, CapabilityQuizEvaluation:
		return true
	}
	return false
}

// String returns the wire representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// Quota domain errors. Both are sentinels usable with errors.Is(); the
// persistence layer wraps them with operation context via shared.WrapError.
var (
	// ErrInvalidCapability indicates an unknown capability kind. This is a
	// programmer error; the calling request fails and is not retried.
	ErrInvalidCapability = errors.New("quota: unknown capability")

	// ErrLedgerUnavailable indicates a transient storage failure. The caller
	// must treat the gated action as not permitted (fail-closed).
	ErrLedgerUnavailable = errors.New("quota: ledger unavailable")
)

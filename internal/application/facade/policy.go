package facade

// Outcome classifies how a quota-gated action ended. Reported by the caller
// after the downstream AI call returns (or fails).
type Outcome int

const (
	// OutcomeSucceeded means the gated action completed normally.
	OutcomeSucceeded Outcome = iota

	// OutcomeProviderError means the downstream provider failed; the user
	// got nothing for the consumed unit.
	OutcomeProviderError

	// OutcomeUserError means the action failed because of the user's own
	// input (e.g. a rejected prompt).
	OutcomeUserError
)

// String returns the label used in logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeUserError:
		return "user_error"
	default:
		return "unknown"
	}
}

// RefundPolicy decides which failure classes give the consumed unit back.
// Whether user-caused failures deserve a refund is a product decision, so it
// is a configuration parameter rather than a hard-coded rule.
type RefundPolicy int

const (
	// RefundOnProviderError refunds only when the provider failed.
	// This is the default: the user should not pay for infrastructure
	// trouble, but invalid input still costs an attempt.
	RefundOnProviderError RefundPolicy = iota

	// RefundOnAnyFailure refunds every failed action.
	RefundOnAnyFailure

	// RefundNever keeps every consumed unit consumed.
	RefundNever
)

// ShouldRefund reports whether the policy refunds the given outcome.
// A succeeded action is never refunded.
func (p RefundPolicy) ShouldRefund(o Outcome) bool {
	if o == OutcomeSucceeded {
		return false
	}
	switch p {
	case RefundOnAnyFailure:
		return true
	case RefundOnProviderError:
		return o == OutcomeProviderError
	default:
		return false
	}
}

// ParsePolicy maps a configuration string to a RefundPolicy.
// Unknown values fall back to RefundOnProviderError.
func ParsePolicy(s string) RefundPolicy {
	switch s {
	case "any_failure":
		return RefundOnAnyFailure
	case "never":
		return RefundNever
	default:
		return RefundOnProviderError
	}
}

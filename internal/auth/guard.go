// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

// RequestKind classifies a request for the Guard independently of any
// transport verb.
type RequestKind int

// Request kinds.
const (
	// Navigational is a safe page load by a human following links.
	Navigational RequestKind = iota
	// NonNavigational is a state-changing or out-of-band request.
	NonNavigational
)

// String returns the kind name.
func (k RequestKind) String() string {
	switch k {
	case Navigational:
		return "navigational"
	case NonNavigational:
		return "non-navigational"
	default:
		return "unknown"
	}
}

// Outcome is the result class of a guard check.
type Outcome int

// Guard outcomes.
const (
	Allow Outcome = iota
	Redirect
	Forbid
)

// String returns the outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Forbid:
		return "forbid"
	default:
		return "unknown"
	}
}

// Decision is what the guard tells the transport to do. Location is set
// only for Redirect.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Allowed reports whether the wrapped operation may proceed.
func (d Decision) Allowed() bool {
	return d.Outcome == Allow
}

// DefaultFallback is the redirect target when none is configured.
const DefaultFallback = "/"

// Guard gates protected operations on session state alone.
type Guard struct {
	// Fallback is where denied navigational requests are sent.
	Fallback string
}

// NewGuard returns a Guard redirecting to fallback, or to DefaultFallback
// when fallback is empty.
func NewGuard(fallback string) Guard {
	if fallback == "" {
		fallback = DefaultFallback
	}
	return Guard{Fallback: fallback}
}

// Check decides whether a request with the given session and kind may
// proceed. Unknown kinds are treated as non-navigational.
func (g Guard) Check(session *Session, kind RequestKind) Decision {
	if session.IsAuthenticated() {
		return Decision{Outcome: Allow}
	}
	if kind == Navigational {
		fallback := g.Fallback
		if fallback == "" {
			fallback = DefaultFallback
		}
		return Decision{Outcome: Redirect, Location: fallback}
	}
	return Decision{Outcome: Forbid}
}

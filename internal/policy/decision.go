// Package policy implements the crawl-eligibility and content-persistence
// policies. Crawl eligibility gates whether fetch/parse work runs at all;
// the persistence policy gates only whether fetched content is stored.
// The two are deliberately decoupled.
package policy

import "github.com/changhorizon/content-collector/internal/collector"

// Verdict enumerates persistence decisions.
type Verdict string

// Verdicts.
const (
	VerdictAllow Verdict = "allow"
	VerdictSkip  Verdict = "skip"
	VerdictDeny  Verdict = "deny"
)

// Decision is the outcome of a persistence check, carrying the ledger
// result it maps to and a reason code.
type Decision struct {
	Verdict Verdict
	Result  collector.LedgerResult
	Reason  string
}

// ShouldPersist reports whether content may be written to durable storage.
func (d Decision) ShouldPersist() bool {
	return d.Verdict == VerdictAllow
}

// Allow permits persistence.
func Allow() Decision {
	return Decision{Verdict: VerdictAllow, Result: collector.LedgerSuccess, Reason: "persist_allowed"}
}

// Skip declines persistence non-fatally.
func Skip(reason string) Decision {
	return Decision{Verdict: VerdictSkip, Result: collector.LedgerSkipped, Reason: reason}
}

// Deny declines persistence because a deny rule matched.
func Deny(reason string) Decision {
	return Decision{Verdict: VerdictDeny, Result: collector.LedgerDenied, Reason: reason}
}

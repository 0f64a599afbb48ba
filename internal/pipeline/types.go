// Package pipeline implements an ordered, short-circuiting stage chain.
// Each stage inspects (and may annotate) a shared item and either lets the
// chain continue to the next stage or terminates it with a verdict. This
// generalizes the teacher's request/response middleware chain: instead of
// mutating an HTTP request/response pair, stages here drive an ingest
// decision to Accept or Reject.
package pipeline

// Verdict is the terminal classification of a Chain run.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictReject Verdict = "reject"
)

// RejectKind enumerates the reasons a chain can reject an item, matching
// the error taxonomy of the ingest decision procedure.
type RejectKind string

const (
	RejectUnsupportedMedia RejectKind = "unsupported_media"
	RejectSelfDuplicate    RejectKind = "self_duplicate"
	RejectTheftDetected    RejectKind = "theft_detected"
	RejectQuotaExhausted   RejectKind = "quota_exhausted"
	RejectFatal            RejectKind = "fatal"
)

// Outcome is the terminal result of running an item through a Chain.
type Outcome struct {
	Verdict Verdict
	Kind    RejectKind
	Detail  string
}

// Accept returns the single passing Outcome.
func Accept() Outcome {
	return Outcome{Verdict: VerdictAccept}
}

// Reject returns a terminal rejecting Outcome carrying kind and a
// human-readable detail (surfaced to the HTTP collaborator verbatim).
func Reject(kind RejectKind, detail string) Outcome {
	return Outcome{Verdict: VerdictReject, Kind: kind, Detail: detail}
}

// Accepted reports whether the outcome is a pass.
func (o Outcome) Accepted() bool {
	return o.Verdict == VerdictAccept
}

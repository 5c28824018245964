package activitypub

import (
	"errors"
	"fmt"

	"github.com/deemkeen/fedimag/domain"
)

// SignatureReason names why an inbound request was refused.
type SignatureReason string

const (
	ReasonMissingHeader    SignatureReason = "missing_header"
	ReasonMalformedHeader  SignatureReason = "malformed_header"
	ReasonNotHTTPS         SignatureReason = "not_https"
	ReasonDomainMismatch   SignatureReason = "domain_mismatch"
	ReasonUnknownKey       SignatureReason = "unknown_key"
	ReasonInvalidSignature SignatureReason = "invalid_signature"
)

// SignatureError rejects an inbound request. It is never retried.
type SignatureError struct {
	Reason SignatureReason
	Detail string
	Err    error
}

func (e *SignatureError) Error() string {
	msg := "signature rejected: " + string(e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SignatureError) Unwrap() error { return e.Err }

func signatureError(reason SignatureReason, detail string, err error) error {
	return &SignatureError{Reason: reason, Detail: detail, Err: err}
}

// ErrActorUnavailable is returned when a negative-result marker short-circuits
// a fetch or a delivery.
var ErrActorUnavailable = errors.New("remote actor unavailable")

// ErrUnfederatedObject is returned when an activity points at something
// without a public identity.
var ErrUnfederatedObject = errors.New("object has no public identity")

// FetchError is a failed GET of a remote document. Marker is the instruction
// that was written back to the remote actor record, if any.
type FetchError struct {
	URL    string
	Status int // 0 for transport failures
	Marker domain.MarkerKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s failed with status: %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError is a non-2xx answer to an outbound POST.
type DeliveryError struct {
	Inbox  string
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed with status: %d", e.Inbox, e.Status)
}

// Outcome is a named reason an inbound object was not ingested.
type Outcome string

const (
	OutcomeBannedActor           Outcome = "banned_actor"
	OutcomeDeletedActor          Outcome = "deleted_actor"
	OutcomeTrashedActor          Outcome = "trashed_actor"
	OutcomeBannedInstance        Outcome = "banned_instance"
	OutcomeLockedThread          Outcome = "locked_thread"
	OutcomeTagBanned             Outcome = "tag_banned"
	OutcomePostingRestricted     Outcome = "posting_restricted"
	OutcomeUnsupportedVisibility Outcome = "unsupported_visibility"
	OutcomeParentNotFound        Outcome = "parent_not_found"
)

// IngestError aborts the ingestion of one object. It is expected control
// flow, not a failure of the node.
type IngestError struct {
	Outcome Outcome
	ApId    string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("object %s not ingested: %s", e.ApId, e.Outcome)
}

func reject(outcome Outcome, apId string) error {
	return &IngestError{Outcome: outcome, ApId: apId}
}

// OutcomeOf returns the ingestion outcome carried by err, if any.
func OutcomeOf(err error) (Outcome, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Outcome, true
	}
	return "", false
}

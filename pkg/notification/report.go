package notification

import (
	"sort"
	"time"
)

// FailureReason classifies a per-recipient delivery failure.
type FailureReason string

const (
	ReasonInvalidToken        FailureReason = "invalid-token"
	ReasonProviderRejected    FailureReason = "provider-rejected"
	ReasonProviderUnavailable FailureReason = "provider-unavailable"
	ReasonRateLimited         FailureReason = "rate-limited"
	ReasonMalformedPayload    FailureReason = "malformed-payload"
	// ReasonCancelled marks recipients that were never attempted because the
	// dispatch was cancelled first.
	ReasonCancelled FailureReason = "cancelled"
)

// Result is the binary outcome of one delivery.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// DeliveryOutcome is the result of delivering one message to one recipient.
type DeliveryOutcome struct {
	Recipient  RecipientID   `json:"recipient"`
	Result     Result        `json:"result"`
	Reason     FailureReason `json:"reason,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	ProviderID string        `json:"providerId,omitempty"`
}

// Delivered builds a success outcome. providerID is the provider's message
// id when one is returned.
func Delivered(r RecipientID, providerID string) DeliveryOutcome {
	return DeliveryOutcome{Recipient: r, Result: ResultSuccess, ProviderID: providerID}
}

// Failed builds a failure outcome.
func Failed(r RecipientID, reason FailureReason, detail string) DeliveryOutcome {
	return DeliveryOutcome{Recipient: r, Result: ResultFailure, Reason: reason, Detail: detail}
}

// Succeeded reports whether the delivery succeeded.
func (o DeliveryOutcome) Succeeded() bool {
	return o.Result == ResultSuccess
}

// ReportStatus is the overall classification of a dispatch.
type ReportStatus string

const (
	StatusAllSucceeded   ReportStatus = "all-succeeded"
	StatusPartialFailure ReportStatus = "partial-failure"
	StatusAllFailed      ReportStatus = "all-failed"
	StatusNoRecipients   ReportStatus = "no-recipients"
)

// Classify derives the report status from the recipient counts.
func Classify(total, succeeded int) ReportStatus {
	switch {
	case total == 0:
		return StatusNoRecipients
	case succeeded == total:
		return StatusAllSucceeded
	case succeeded == 0:
		return StatusAllFailed
	default:
		return StatusPartialFailure
	}
}

// RecipientFailure is one failed entry of a DeliveryReport.
type RecipientFailure struct {
	Recipient RecipientID   `json:"recipient"`
	Reason    FailureReason `json:"reason"`
	Detail    string        `json:"detail,omitempty"`
}

// DeliveryReport aggregates the outcomes of one dispatch. Succeeded plus
// len(Failures) always equals Total.
type DeliveryReport struct {
	Message    PushMessage        `json:"message"`
	Total      int                `json:"total"`
	Succeeded  int                `json:"succeeded"`
	Failures   []RecipientFailure `json:"failures"`
	Status     ReportStatus       `json:"status"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

// NewReport aggregates outcomes, which must hold one entry per recipient.
// Failures are sorted by recipient so reports are stable.
func NewReport(msg PushMessage, outcomes []DeliveryOutcome) DeliveryReport {
	r := DeliveryReport{
		Message:  msg,
		Total:    len(outcomes),
		Failures: make([]RecipientFailure, 0),
	}
	for _, o := range outcomes {
		if o.Succeeded() {
			r.Succeeded++
			continue
		}
		r.Failures = append(r.Failures, RecipientFailure{Recipient: o.Recipient, Reason: o.Reason, Detail: o.Detail})
	}
	sort.Slice(r.Failures, func(i, j int) bool {
		return r.Failures[i].Recipient < r.Failures[j].Recipient
	})
	r.Status = Classify(r.Total, r.Succeeded)
	return r
}

// Failed counts failures that were attempted, excluding cancelled ones.
func (r DeliveryReport) Failed() int {
	return len(r.Failures) - r.Cancelled()
}

// Cancelled counts recipients that were never attempted.
func (r DeliveryReport) Cancelled() int {
	n := 0
	for _, f := range r.Failures {
		if f.Reason == ReasonCancelled {
			n++
		}
	}
	return n
}

// FailedRecipients lists every recipient that did not receive the message,
// cancelled ones included.
func (r DeliveryReport) FailedRecipients() []RecipientID {
	ids := make([]RecipientID, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.Recipient)
	}
	return ids
}

// FailuresWith lists recipients that failed with the given reason.
func (r DeliveryReport) FailuresWith(reason FailureReason) []RecipientID {
	var ids []RecipientID
	for _, f := range r.Failures {
		if f.Reason == reason {
			ids = append(ids, f.Recipient)
		}
	}
	return ids
}

// RetryMessage returns the original message addressed only to the failed
// recipients. ok is false when there is nothing to retry.
func (r DeliveryReport) RetryMessage() (msg PushMessage, ok bool) {
	failed := r.FailedRecipients()
	if len(failed) == 0 {
		return PushMessage{}, false
	}
	return r.Message.WithAudience(Explicit(failed...)), true
}

// AuditEntry is the persisted record of a push dispatch.
type AuditEntry struct {
	ID      string `json:"id"`
	RetryOf string `json:"retryOf,omitempty"`
	DeliveryReport
	CreatedAt time.Time `json:"createdAt"`
}

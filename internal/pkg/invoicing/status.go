package invoicing

import "strings"

// Status is the processor's invoice state normalised to what billing acts on.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusUnknown   Status = "unknown"
)

// MapStatus normalises a processor status string.
func MapStatus(raw string) Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PAID", "COMPLETED", "SUCCESS", "SUCCEEDED":
		return StatusCompleted
	case "FAILED", "DECLINED", "CANCELED", "CANCELLED", "REFUNDED":
		return StatusFailed
	case "EXPIRED":
		return StatusExpired
	case "UNPAID", "PENDING", "SCHEDULED", "DRAFT", "PARTIALLY_PAID", "PAYMENT_PENDING":
		return StatusPending
	}
	return StatusUnknown
}

// Final reports whether no further updates are expected for s.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

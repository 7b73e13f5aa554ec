package pipeline

import "fmt"

// Reason explains why an item was dropped before fan-out.
type Reason string

// Discard reasons. The values double as metric labels.
const (
	ReasonValidationFailed Reason = "validation_failed"
	ReasonDuplicate        Reason = "duplicate"
	ReasonStale            Reason = "stale"
)

// Discard is a non-fatal decision to drop an item. It is reported to callers
// but never escalated.
type Discard struct {
	Reason Reason
	Detail string
}

func (d *Discard) Error() string {
	if d.Detail == "" {
		return fmt.Sprintf("item discarded: %s", d.Reason)
	}
	return fmt.Sprintf("item discarded: %s: %s", d.Reason, d.Detail)
}

func discard(reason Reason, format string, args ...any) *Discard {
	return &Discard{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

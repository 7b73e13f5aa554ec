package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageItemDiscarded  Stage = "ITEM_DISCARDED"
	StageItemError      Stage = "ITEM_ERROR"
	StageItemDone       Stage = "ITEM_DONE"
	StageDelivery       Stage = "DELIVERY"
	StageCompensated    Stage = "COMPENSATED"
	StageCompensateFail Stage = "COMPENSATE_FAILED"
)

// Result is the coarse outcome attached to delivery and completion events.
type Result string

// Supported results.
const (
	ResultDelivered   Result = "delivered"
	ResultUndelivered Result = "undelivered"
	ResultFailed      Result = "failed"
)

// Event captures a single step in an item's trip through the pipeline.
type Event struct {
	// RunID groups every event emitted for one Process call.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Spider names the producer of the item.
	Spider string
	// ItemID is the canonical _id, empty when the item carried none.
	ItemID string
	// Sink is set on delivery events.
	Sink string
	// Reason carries the discard reason for StageItemDiscarded.
	Reason string
	// Result is set on delivery and completion events.
	Result Result
	// Dur captures delivery latency or total processing time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageItemError, StageCompensated, StageCompensateFail:
	case StageItemDiscarded:
		if e.Reason == "" {
			return errors.New("discard requires reason")
		}
	case StageDelivery:
		if e.Sink == "" {
			return errors.New("delivery requires sink")
		}
		if e.Result == "" {
			return errors.New("delivery requires result")
		}
	case StageItemDone:
		if e.Result == "" {
			return errors.New("item done requires result")
		}
	default:
		return errors.Newf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// DeliveryResult maps a sink outcome onto a Result.
func DeliveryResult(delivered bool) Result {
	if delivered {
		return ResultDelivered
	}
	return ResultFailed
}

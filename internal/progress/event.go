package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageItemStart     Stage = "ITEM_START"
	StageItemStep      Stage = "ITEM_STEP"
	StageItemDone      Stage = "ITEM_DONE"
	StageItemError     Stage = "ITEM_ERROR"
	StageItemCancelled Stage = "ITEM_CANCELLED"
)

// Step names emitted between pipeline stages.
const (
	StepPreprocess = "preprocess"
	StepMetadata   = "metadata"
	StepRecognize  = "recognize"
	StepSegment    = "segment"
	StepEnrich     = "enrich"
	StepPersist    = "persist"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// ItemID uniquely identifies the pipeline item.
	ItemID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Step scopes ITEM_STEP events to one pipeline stage.
	Step string
	// Percent is the item's completion estimate after this milestone.
	Percent int
	// Articles carries the persisted article count on ITEM_DONE.
	Articles int
	// Dur captures execution latency for steps and item completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ItemID == "" {
		return errors.New("item id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageItemStart, StageItemDone, StageItemError, StageItemCancelled:
	case StageItemStep:
		if e.Step == "" {
			return errors.New("item step requires a step name")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Percent < 0 || e.Percent > 100 {
		return errors.New("percent must be within [0,100]")
	}
	return nil
}

package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Nature discriminates the two event kinds reported for a variant.
type Nature string

const (
	NatureDisplayed Nature = "displayed"
	NatureWon       Nature = "won"
)

// ParseNature validates a wire-level nature string.
func ParseNature(s string) (Nature, error) {
	switch Nature(s) {
	case NatureDisplayed, NatureWon:
		return Nature(s), nil
	}
	return "", fmt.Errorf("unknown event nature %q", s)
}

// EventKey uniquely identifies one stored event. Keys are derived once and
// never reused; ID is minted at construction time.
type EventKey struct {
	ExperimentID string
	VariantID    string
	ClientID     string
	Nature       Nature
	ID           string
}

// NewEventKey derives a fresh key for one event occurrence.
func NewEventKey(experimentID, variantID, clientID string, nature Nature) EventKey {
	return EventKey{
		ExperimentID: experimentID,
		VariantID:    variantID,
		ClientID:     clientID,
		Nature:       nature,
		ID:           uuid.NewString(),
	}
}

// String composes the storage key. Glob patterns passed to ListAll match
// against this form.
func (k EventKey) String() string {
	return k.ExperimentID + ":" + k.VariantID + ":" + k.ClientID + ":" + string(k.Nature) + ":" + k.ID
}

// Variant is one treatment within an experiment. A snapshot of it travels on
// every event so history survives later edits to the experiment.
type Variant struct {
	ID                string
	Name              string
	Description       string
	Traffic           float64
	CurrentPopulation int
}

// Experiment is the facade's input shape: an id plus its variant list.
// Experiment CRUD beyond the minimal registry lives outside this store.
type Experiment struct {
	ID          string
	Name        string
	Description string
	Variants    []Variant
	CreatedAt   time.Time
}

// Event is a single displayed or won report, discriminated by Key.Nature.
// Immutable once persisted; Transformation is the conversion-rate snapshot
// taken at write time, not a live value.
type Event struct {
	Key            EventKey
	ExperimentID   string
	VariantID      string
	ClientID       string
	Variant        Variant
	Timestamp      time.Time
	Transformation float64
}

// Bucket is one time bucket of the aggregate series: bucket start plus the
// average stored transformation per event nature within the bucket.
type Bucket struct {
	Timestamp time.Time
	Averages  map[Nature]float64
}

// VariantResult is computed on read: live counter totals, the live
// transformation derived from them, and the bucketed historical series.
type VariantResult struct {
	Variant        Variant
	Displayed      int64
	Won            int64
	Transformation float64
	Events         []Bucket
}

// Transformation is the conversion rate won*100/displayed, 0 when either
// counter is 0.
func Transformation(displayed, won int64) float64 {
	if displayed == 0 || won == 0 {
		return 0
	}
	return float64(won) * 100.0 / float64(displayed)
}

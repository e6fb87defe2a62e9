package call

import (
	"time"

	"github.com/MrWong99/scamguard/pkg/types"
)

// Status is the lifecycle status of a call.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusActive Status = "active"
)

// Snapshot is a copy of a call's observable state. Slices are never shared
// with the controller.
type Snapshot struct {
	ID         string                     `json:"id"`
	Status     Status                     `json:"status"`
	Listening  bool                       `json:"listening"`
	StartedAt  time.Time                  `json:"started_at,omitzero"`
	Speaker    types.Speaker              `json:"speaker"`
	Transcript []types.Utterance          `json:"transcript"`
	Window     []types.Utterance          `json:"window"`
	Result     types.ClassificationResult `json:"result"`
	Badge      string                     `json:"badge"`
	Error      string                     `json:"error,omitempty"`
}

// Ended reports whether the call was ended and its results are still shown.
func (s Snapshot) Ended() bool {
	return s.Status == StatusIdle && len(s.Transcript) > 0
}

package call

import (
	"fmt"
	"time"

	"github.com/MrWong99/scamguard/internal/conversation"
	"github.com/MrWong99/scamguard/internal/turn"
)

// Trigger selects which appended utterances start a classification.
type Trigger string

const (
	// TriggerCaller classifies after every Caller utterance.
	TriggerCaller Trigger = "caller"

	// TriggerEvery classifies after every utterance.
	TriggerEvery Trigger = "every"
)

// IsValid reports whether t is a known trigger policy.
func (t Trigger) IsValid() bool {
	return t == TriggerCaller || t == TriggerEvery
}

// Config tunes a Controller.
type Config struct {
	// Silence is the pause after which the speaker flips.
	Silence time.Duration

	// WindowSize is the number of trailing utterances sent for classification.
	WindowSize int

	// Trigger is the classification trigger policy.
	Trigger Trigger

	// ClassifyTimeout bounds a single classification request.
	ClassifyTimeout time.Duration
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Silence <= 0 {
		c.Silence = turn.DefaultSilence
	}
	if c.WindowSize <= 0 {
		c.WindowSize = conversation.DefaultWindowSize
	}
	if c.Trigger == "" {
		c.Trigger = TriggerCaller
	}
	return c
}

// Validate reports an invalid trigger policy.
func (c Config) Validate() error {
	if c.Trigger != "" && !c.Trigger.IsValid() {
		return fmt.Errorf("call: unknown trigger %q (want %q or %q)", c.Trigger, TriggerCaller, TriggerEvery)
	}
	return nil
}

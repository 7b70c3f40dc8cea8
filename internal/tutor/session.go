// Package tutor implements the tutoring session core: navigation state,
// system directives, and the conversation engine that talks to the model.
package tutor

import (
	"errors"
	"fmt"
	"slices"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/curriculum"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current phase.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is empty")
)

// Phase is the coarse navigation state derived from a State.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseBrowsing  Phase = "browsing"
	PhaseInSession Phase = "in_session"
)

// Turn is one message in the conversation log.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func userTurn(text string) Turn      { return Turn{Role: ai.RoleUser, Content: text} }
func assistantTurn(text string) Turn { return Turn{Role: ai.RoleAssistant, Content: text} }

// State is a learner's navigation and conversation state. It is a value:
// every transition returns a new State and leaves the receiver untouched.
// Key identifies the session and survives every transition.
type State struct {
	Key            string               `json:"key"`
	CurriculumID   string               `json:"curriculum_id,omitempty"`
	UnitID         string               `json:"unit_id,omitempty"`
	ActiveSubTopic *curriculum.SubTopic `json:"active_sub_topic,omitempty"`
	Turns          []Turn               `json:"turns"`
}

// Phase reports where in the navigation flow the state is.
func (s State) Phase() Phase {
	switch {
	case s.ActiveSubTopic != nil:
		return PhaseInSession
	case s.UnitID != "":
		return PhaseBrowsing
	default:
		return PhaseIdle
	}
}

// History returns a copy of the turn log.
func (s State) History() []Turn {
	return slices.Clone(s.Turns)
}

// PendingUserTurn reports whether the last turn is a user message that never
// got a reply, which is what a failed model call leaves behind.
func (s State) PendingUserTurn() bool {
	return len(s.Turns) > 0 && s.Turns[len(s.Turns)-1].Role == ai.RoleUser
}

// SelectCurriculum scopes the state to a curriculum. Switching to a different
// curriculum drops the unit, sub-topic and conversation.
func (s State) SelectCurriculum(id string) State {
	if id == s.CurriculumID {
		return s.clone()
	}
	return State{Key: s.Key, CurriculumID: id, Turns: []Turn{}}
}

// SelectUnit moves to Browsing. Re-selecting the current unit keeps any
// in-progress session; selecting another unit clears it. An empty id
// deselects the unit and returns to Idle.
func (s State) SelectUnit(id string) State {
	if id == "" {
		return State{Key: s.Key, CurriculumID: s.CurriculumID, Turns: []Turn{}}
	}
	if id == s.UnitID {
		return s.clone()
	}
	return State{Key: s.Key, CurriculumID: s.CurriculumID, UnitID: id, Turns: []Turn{}}
}

// EnterSubTopic starts a lesson with an empty turn log. A unit must be
// selected first.
func (s State) EnterSubTopic(sub curriculum.SubTopic) (State, error) {
	if s.UnitID == "" {
		return s, fmt.Errorf("enter sub-topic %q: no unit selected: %w", sub.ID, ErrInvalidTransition)
	}
	return State{
		Key:            s.Key,
		CurriculumID:   s.CurriculumID,
		UnitID:         s.UnitID,
		ActiveSubTopic: &sub,
		Turns:          []Turn{},
	}, nil
}

// ExitSubTopic returns to the syllabus, always clearing the sub-topic and the
// turn log. It is idempotent.
func (s State) ExitSubTopic() State {
	return State{Key: s.Key, CurriculumID: s.CurriculumID, UnitID: s.UnitID, Turns: []Turn{}}
}

func (s State) withTurn(t Turn) State {
	next := s.clone()
	next.Turns = append(next.Turns, t)
	return next
}

func (s State) clone() State {
	next := s
	next.Turns = make([]Turn, len(s.Turns), len(s.Turns)+2)
	copy(next.Turns, s.Turns)
	if s.ActiveSubTopic != nil {
		sub := *s.ActiveSubTopic
		next.ActiveSubTopic = &sub
	}
	return next
}

// NewState returns an Idle state for the given session key.
func NewState(key string) State {
	return State{Key: key, Turns: []Turn{}}
}

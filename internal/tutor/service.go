package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/p-n-ai/pai-tutor/internal/curriculum"
	"github.com/p-n-ai/pai-tutor/internal/platform/metrics"
)

// ErrNotFound is returned when a requested unit, topic or sub-topic does not
// exist where the session expects it.
var ErrNotFound = errors.New("not found")

// EmptySyllabusNotice is shown for a topic that has no sub-topics yet.
const EmptySyllabusNotice = "No sub-topics have been loaded for this topic yet."

// SyllabusTopic is one topic of a unit together with its sub-topics.
type SyllabusTopic struct {
	Topic     curriculum.Topic      `json:"topic"`
	SubTopics []curriculum.SubTopic `json:"sub_topics"`
	Notice    string                `json:"notice,omitempty"`
}

// Lesson is what the learner sees on entering a sub-topic. Greeting and
// Objectives are display-only and never become turns.
type Lesson struct {
	State      State               `json:"state"`
	SubTopic   curriculum.SubTopic `json:"sub_topic"`
	Greeting   string              `json:"greeting"`
	Objectives string              `json:"objectives"`
}

// Reply is the result of a chat message: the assistant's text plus the
// updated history for display.
type Reply struct {
	Text    string `json:"text"`
	History []Turn `json:"history"`
}

// ServiceConfig holds dependencies for the tutoring service.
type ServiceConfig struct {
	Repository curriculum.Repository
	Engine     *Engine
	Store      SessionStore
	Events     EventLogger
	Metrics    *metrics.Metrics
}

// Service is the entry point used by transports. Operations on the same
// session key run one at a time.
type Service struct {
	repo    curriculum.Repository
	engine  *Engine
	store   SessionStore
	events  EventLogger
	metrics *metrics.Metrics
	locks   keyLocks
}

// NewService creates a tutoring service.
func NewService(cfg ServiceConfig) *Service {
	store := cfg.Store
	if store == nil {
		store = NewMemorySessionStore()
	}
	events := cfg.Events
	if events == nil {
		events = NopEventLogger{}
	}
	return &Service{
		repo:    cfg.Repository,
		engine:  cfg.Engine,
		store:   store,
		events:  events,
		metrics: cfg.Metrics,
		locks:   keyLocks{m: make(map[string]*keyLock)},
	}
}

// NewSession creates and stores an Idle session with a fresh key.
func (s *Service) NewSession(ctx context.Context) (State, error) {
	st := NewState(uuid.NewString())
	if err := s.store.Save(ctx, st); err != nil {
		return State{}, err
	}
	slog.Info("session created", "session_key", st.Key)
	return st, nil
}

// EndSession forgets a session. Ending an unknown session is not an error.
func (s *Service) EndSession(ctx context.Context, key string) error {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.metrics.IncTransition("end_session")
	s.logEvent(key, EventSessionEnded, map[string]any{
		"phase": string(st.Phase()),
		"turns": len(st.Turns),
	})
	slog.Info("session ended", "session_key", key)
	return nil
}

// Session returns the stored state for key.
func (s *Service) Session(ctx context.Context, key string) (State, error) {
	return s.store.Load(ctx, key)
}

func (s *Service) Curriculums(ctx context.Context) ([]curriculum.Curriculum, error) {
	return s.repo.ListCurriculums(ctx)
}

func (s *Service) Units(ctx context.Context, curriculumID string) ([]curriculum.Unit, error) {
	return s.repo.ListUnits(ctx, curriculumID)
}

// SubTopics lists the sub-topics of a topic that can currently be entered.
func (s *Service) SubTopics(ctx context.Context, topicID string) ([]curriculum.SubTopic, error) {
	return s.repo.ListSubTopics(ctx, topicID)
}

// Syllabus lists a unit's topics in order, each with its sub-topics. A
// topic without sub-topics carries EmptySyllabusNotice.
func (s *Service) Syllabus(ctx context.Context, unitID string) ([]SyllabusTopic, error) {
	topics, err := s.repo.ListTopics(ctx, unitID)
	if err != nil {
		return nil, err
	}
	out := make([]SyllabusTopic, 0, len(topics))
	for _, t := range topics {
		subs, err := s.repo.ListSubTopics(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		st := SyllabusTopic{Topic: t, SubTopics: subs}
		if len(subs) == 0 {
			st.Notice = EmptySyllabusNotice
		}
		out = append(out, st)
	}
	return out, nil
}

// SelectCurriculum scopes the session to a curriculum.
func (s *Service) SelectCurriculum(ctx context.Context, key, curriculumID string) (State, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return State{}, err
	}
	curriculums, err := s.repo.ListCurriculums(ctx)
	if err != nil {
		return st, err
	}
	if !lo.ContainsBy(curriculums, func(c curriculum.Curriculum) bool { return c.ID == curriculumID }) {
		return st, fmt.Errorf("curriculum %s: %w", curriculumID, ErrNotFound)
	}

	next := st.SelectCurriculum(curriculumID)
	if err := s.store.Save(ctx, next); err != nil {
		return st, err
	}
	s.metrics.IncTransition("select_curriculum")
	return next, nil
}

// SelectUnit moves the session to Browsing. When a curriculum is selected the
// unit must belong to it. An empty unitID returns the session to Idle.
func (s *Service) SelectUnit(ctx context.Context, key, unitID string) (State, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return State{}, err
	}
	if unitID != "" && st.CurriculumID != "" {
		units, err := s.repo.ListUnits(ctx, st.CurriculumID)
		if err != nil {
			return st, err
		}
		if !lo.ContainsBy(units, func(u curriculum.Unit) bool { return u.ID == unitID }) {
			return st, fmt.Errorf("unit %s in curriculum %s: %w", unitID, st.CurriculumID, ErrNotFound)
		}
	}

	next := st.SelectUnit(unitID)
	if err := s.store.Save(ctx, next); err != nil {
		return st, err
	}
	s.metrics.IncTransition("select_unit")
	s.logEvent(key, EventUnitSelected, map[string]any{
		"unit_id": unitID,
		"reset":   unitID != st.UnitID,
	})
	return next, nil
}

// EnterSubTopic starts a lesson on a sub-topic of the selected unit.
func (s *Service) EnterSubTopic(ctx context.Context, key, topicID, subTopicID string) (Lesson, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return Lesson{}, err
	}
	if st.UnitID == "" {
		return Lesson{State: st}, fmt.Errorf("enter sub-topic %s: no unit selected: %w", subTopicID, ErrInvalidTransition)
	}

	topics, err := s.repo.ListTopics(ctx, st.UnitID)
	if err != nil {
		return Lesson{State: st}, err
	}
	if !lo.ContainsBy(topics, func(t curriculum.Topic) bool { return t.ID == topicID }) {
		return Lesson{State: st}, fmt.Errorf("topic %s in unit %s: %w", topicID, st.UnitID, ErrNotFound)
	}
	subs, err := s.repo.ListSubTopics(ctx, topicID)
	if err != nil {
		return Lesson{State: st}, err
	}
	sub, ok := lo.Find(subs, func(sub curriculum.SubTopic) bool { return sub.ID == subTopicID })
	if !ok {
		return Lesson{State: st}, fmt.Errorf("sub-topic %s in topic %s: %w", subTopicID, topicID, ErrNotFound)
	}

	next, err := st.EnterSubTopic(sub)
	if err != nil {
		return Lesson{State: st}, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return Lesson{State: st}, err
	}
	s.metrics.IncTransition("enter_sub_topic")
	s.logEvent(key, EventSubTopicEntered, map[string]any{
		"unit_id":      next.UnitID,
		"topic_id":     topicID,
		"sub_topic_id": sub.ID,
	})

	return Lesson{
		State:      next,
		SubTopic:   sub,
		Greeting:   lessonGreeting(sub.Name),
		Objectives: sub.ContentGuidelines,
	}, nil
}

func lessonGreeting(name string) string {
	return fmt.Sprintf("Let's work on **%s**. Based on the Edexcel syllabus, would you like to review the theory first, or shall I set you a worked exercise?", name)
}

// ExitSubTopic returns the session to the syllabus view.
func (s *Service) ExitSubTopic(ctx context.Context, key string) (State, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return State{}, err
	}
	next := st.ExitSubTopic()
	if err := s.store.Save(ctx, next); err != nil {
		return st, err
	}
	s.metrics.IncTransition("exit_sub_topic")
	if st.ActiveSubTopic != nil {
		s.logEvent(key, EventSubTopicExited, map[string]any{
			"sub_topic_id": st.ActiveSubTopic.ID,
			"turns":        len(st.Turns),
		})
	}
	return next, nil
}

// SendMessage submits a learner message. On a model failure the returned
// Reply still carries the history including the unanswered message.
func (s *Service) SendMessage(ctx context.Context, key, text string) (Reply, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	next, reply, err := s.engine.Submit(ctx, st, text)
	return s.finishTurn(ctx, st, next, reply, err)
}

// RetryMessage asks the model again for the last unanswered message.
func (s *Service) RetryMessage(ctx context.Context, key string) (Reply, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	st, err := s.store.Load(ctx, key)
	if err != nil {
		return Reply{}, err
	}
	next, reply, err := s.engine.Retry(ctx, st)
	return s.finishTurn(ctx, st, next, reply, err)
}

func (s *Service) finishTurn(ctx context.Context, prev, next State, reply string, err error) (Reply, error) {
	var modelErr *ModelError
	switch {
	case err == nil:
	case errors.As(err, &modelErr):
		// The user turn must survive a failed call.
		if saveErr := s.store.Save(ctx, next); saveErr != nil {
			return Reply{History: prev.History()}, saveErr
		}
		s.logEvent(next.Key, EventModelFailed, map[string]any{
			"turns":   len(next.Turns),
			"timeout": modelErr.Timeout(),
		})
		return Reply{History: next.History()}, err
	default:
		return Reply{History: prev.History()}, err
	}

	if err := s.store.Save(ctx, next); err != nil {
		return Reply{History: prev.History()}, err
	}
	s.logEvent(next.Key, EventMessageAnswered, map[string]any{
		"sub_topic_id": next.ActiveSubTopic.ID,
		"turns":        len(next.Turns),
	})
	return Reply{Text: reply, History: next.History()}, nil
}

func (s *Service) logEvent(key, eventType string, data map[string]any) {
	if err := s.events.LogEvent(Event{SessionKey: key, EventType: eventType, Data: data}); err != nil {
		slog.Warn("failed to log event", "type", eventType, "session_key", key, "error", err)
	}
}

// keyLocks hands out one mutex per session key and drops it once unused.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}

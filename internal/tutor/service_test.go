package tutor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-n-ai/pai-tutor/internal/ai"
	"github.com/p-n-ai/pai-tutor/internal/curriculum"
)

func fixtureRepo() *curriculum.MemoryRepository {
	return curriculum.NewMemoryRepository(curriculum.Records{
		Curriculums: []curriculum.Curriculum{{ID: "C1", Name: "Edexcel Mathematics", Level: "IAL"}},
		Units: []curriculum.Unit{
			{ID: "U", Name: "Pure 1", CurriculumID: "C1"},
			{ID: "V", Name: "Statistics 1", CurriculumID: "C1"},
		},
		Topics: []curriculum.Topic{
			{ID: "T2", Name: "Coordinate Geometry", OrderIndex: 2, UnitID: "U"},
			{ID: "T1", Name: "Quadratics", OrderIndex: 1, UnitID: "U"},
			{ID: "TV", Name: "Probability", OrderIndex: 1, UnitID: "V"},
		},
		SubTopics: []curriculum.SubTopic{subS2, subS1},
	})
}

type failingRepo struct{}

var errBackend = errors.New("connection refused")

func (failingRepo) ListCurriculums(context.Context) ([]curriculum.Curriculum, error) {
	return nil, fmt.Errorf("list curriculums: %w: %w", curriculum.ErrDataUnavailable, errBackend)
}
func (failingRepo) ListUnits(context.Context, string) ([]curriculum.Unit, error) {
	return nil, fmt.Errorf("list units: %w: %w", curriculum.ErrDataUnavailable, errBackend)
}
func (failingRepo) ListTopics(context.Context, string) ([]curriculum.Topic, error) {
	return nil, fmt.Errorf("list topics: %w: %w", curriculum.ErrDataUnavailable, errBackend)
}
func (failingRepo) ListSubTopics(context.Context, string) ([]curriculum.SubTopic, error) {
	return nil, fmt.Errorf("list sub-topics: %w: %w", curriculum.ErrDataUnavailable, errBackend)
}

func newTestService(t *testing.T, model ai.Provider) (*Service, *MemoryEventLogger) {
	t.Helper()
	events := NewMemoryEventLogger()
	return NewService(ServiceConfig{
		Repository: fixtureRepo(),
		Engine:     NewEngine(EngineConfig{Model: model}),
		Events:     events,
	}), events
}

func TestService_Syllabus(t *testing.T) {
	svc, _ := newTestService(t, ai.NewMockProvider("ok"))

	syllabus, err := svc.Syllabus(context.Background(), "U")
	require.NoError(t, err)
	require.Len(t, syllabus, 2)

	assert.Equal(t, "T1", syllabus[0].Topic.ID)
	require.Len(t, syllabus[0].SubTopics, 2)
	assert.Equal(t, "S1", syllabus[0].SubTopics[0].ID)
	assert.Equal(t, "S2", syllabus[0].SubTopics[1].ID)
	assert.Empty(t, syllabus[0].Notice)

	assert.Equal(t, "T2", syllabus[1].Topic.ID)
	assert.NotNil(t, syllabus[1].SubTopics)
	assert.Empty(t, syllabus[1].SubTopics)
	assert.Equal(t, EmptySyllabusNotice, syllabus[1].Notice)
}

func TestService_DataUnavailable(t *testing.T) {
	svc := NewService(ServiceConfig{Repository: failingRepo{}, Engine: NewEngine(EngineConfig{Model: ai.NewMockProvider("ok")})})
	ctx := context.Background()

	_, err := svc.Curriculums(ctx)
	assert.ErrorIs(t, err, curriculum.ErrDataUnavailable)
	_, err = svc.Syllabus(ctx, "U")
	assert.ErrorIs(t, err, curriculum.ErrDataUnavailable)
	_, err = svc.SubTopics(ctx, "T1")
	assert.ErrorIs(t, err, curriculum.ErrDataUnavailable)

	st, err := svc.NewSession(ctx)
	require.NoError(t, err)
	_, err = svc.SelectUnit(ctx, st.Key, "U")
	require.NoError(t, err, "no curriculum selected, so the unit is not looked up")
	_, err = svc.EnterSubTopic(ctx, st.Key, "T1", "S1")
	assert.ErrorIs(t, err, curriculum.ErrDataUnavailable)

	got, err := svc.Session(ctx, st.Key)
	require.NoError(t, err)
	assert.Equal(t, PhaseBrowsing, got.Phase(), "a failed lookup must not change the session")
}

func TestService_FullLesson(t *testing.T) {
	mock := &ai.MockProvider{Replies: []string{"What multiplies to 6?", "Good, and which add to -5?"}}
	svc, events := newTestService(t, mock)
	ctx := context.Background()

	st, err := svc.NewSession(ctx)
	require.NoError(t, err)
	key := st.Key
	require.NotEmpty(t, key)

	_, err = svc.SelectCurriculum(ctx, key, "C1")
	require.NoError(t, err)
	_, err = svc.SelectUnit(ctx, key, "U")
	require.NoError(t, err)

	lesson, err := svc.EnterSubTopic(ctx, key, "T1", "S1")
	require.NoError(t, err)
	assert.Contains(t, lesson.Greeting, "Let's work on **Factorising Quadratics**")
	assert.Equal(t, subS1.ContentGuidelines, lesson.Objectives)
	assert.Empty(t, lesson.State.Turns, "the greeting is not a turn")

	reply, err := svc.SendMessage(ctx, key, "help me solve x^2-5x+6=0")
	require.NoError(t, err)
	assert.Equal(t, "What multiplies to 6?", reply.Text)
	assert.Len(t, reply.History, 2)

	reply, err = svc.SendMessage(ctx, key, "2 and 3")
	require.NoError(t, err)
	assert.Len(t, reply.History, 4)

	// Re-selecting the same unit keeps the lesson.
	st, err = svc.SelectUnit(ctx, key, "U")
	require.NoError(t, err)
	assert.Equal(t, PhaseInSession, st.Phase())
	assert.Len(t, st.Turns, 4)

	st, err = svc.ExitSubTopic(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PhaseBrowsing, st.Phase())
	assert.Empty(t, st.Turns)

	assert.Equal(t, []string{
		EventUnitSelected,
		EventSubTopicEntered,
		EventMessageAnswered,
		EventMessageAnswered,
		EventUnitSelected,
		EventSubTopicExited,
	}, events.Types())
}

func TestService_ModelFailurePersistsUserTurn(t *testing.T) {
	mock := &ai.MockProvider{
		Errs:    []error{nil, context.DeadlineExceeded},
		Replies: []string{"first reply", "retried reply"},
	}
	svc, events := newTestService(t, mock)
	ctx := context.Background()

	key := enterLesson(t, svc)
	_, err := svc.SendMessage(ctx, key, "first")
	require.NoError(t, err)

	reply, err := svc.SendMessage(ctx, key, "second")
	var modelErr *ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Empty(t, reply.Text)
	require.Len(t, reply.History, 3)
	assert.Equal(t, userTurn("second"), reply.History[2])

	stored, err := svc.Session(ctx, key)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 3, "the unanswered message is saved")
	assert.Contains(t, events.Types(), EventModelFailed)

	reply, err = svc.RetryMessage(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "retried reply", reply.Text)
	assert.Len(t, reply.History, 4)

	_, err = svc.RetryMessage(ctx, key)
	assert.ErrorIs(t, err, ErrNothingToRetry)
}

func TestService_InvalidTransitions(t *testing.T) {
	svc, _ := newTestService(t, ai.NewMockProvider("ok"))
	ctx := context.Background()

	st, err := svc.NewSession(ctx)
	require.NoError(t, err)

	_, err = svc.EnterSubTopic(ctx, st.Key, "T1", "S1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.SendMessage(ctx, st.Key, "hello")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	key := enterLesson(t, svc)
	_, err = svc.SendMessage(ctx, key, "  ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestService_NotFound(t *testing.T) {
	svc, _ := newTestService(t, ai.NewMockProvider("ok"))
	ctx := context.Background()

	st, err := svc.NewSession(ctx)
	require.NoError(t, err)

	_, err = svc.SelectCurriculum(ctx, st.Key, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SelectCurriculum(ctx, st.Key, "C1")
	require.NoError(t, err)
	_, err = svc.SelectUnit(ctx, st.Key, "elsewhere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.SelectUnit(ctx, st.Key, "U")
	require.NoError(t, err)
	_, err = svc.EnterSubTopic(ctx, st.Key, "TV", "S1")
	assert.ErrorIs(t, err, ErrNotFound, "topic from another unit")
	_, err = svc.EnterSubTopic(ctx, st.Key, "T1", "S9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_UnknownKeyStartsIdle(t *testing.T) {
	svc, _ := newTestService(t, ai.NewMockProvider("ok"))

	st, err := svc.Session(context.Background(), "never-created")
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase())
	assert.Equal(t, "never-created", st.Key)
}

func TestService_ConcurrentMessagesAreSerialised(t *testing.T) {
	svc, _ := newTestService(t, ai.NewMockProvider("ok"))
	ctx := context.Background()
	key := enterLesson(t, svc)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SendMessage(ctx, key, fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st, err := svc.Session(ctx, key)
	require.NoError(t, err)
	require.Len(t, st.Turns, 2*n, "no turn may be lost")
	for i := 0; i < len(st.Turns); i += 2 {
		assert.Equal(t, ai.RoleUser, st.Turns[i].Role)
		assert.Equal(t, ai.RoleAssistant, st.Turns[i+1].Role)
	}
	assert.Empty(t, svc.locks.m, "locks are released")
}

func enterLesson(t *testing.T, svc *Service) string {
	t.Helper()
	ctx := context.Background()
	st, err := svc.NewSession(ctx)
	require.NoError(t, err)
	_, err = svc.SelectUnit(ctx, st.Key, "U")
	require.NoError(t, err)
	_, err = svc.EnterSubTopic(ctx, st.Key, "T1", "S1")
	require.NoError(t, err)
	return st.Key
}

func TestService_EndSession(t *testing.T) {
	store := NewMemorySessionStore()
	events := NewMemoryEventLogger()
	svc := NewService(ServiceConfig{
		Repository: fixtureRepo(),
		Engine:     NewEngine(EngineConfig{Model: ai.NewMockProvider("ok")}),
		Store:      store,
		Events:     events,
	})
	ctx := context.Background()
	key := enterLesson(t, svc)
	require.Equal(t, 1, store.Len())

	require.NoError(t, svc.EndSession(ctx, key))
	assert.Zero(t, store.Len())
	assert.Equal(t, EventSessionEnded, events.Types()[len(events.Types())-1])

	st, err := svc.Session(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, st.Phase())

	require.NoError(t, svc.EndSession(ctx, "never-created"), "ending an unknown session is not an error")
}

package curriculum

import (
	"context"
	"sync"

	"github.com/samber/lo"
)

// Records is the flat form of a curriculum, one slice per collection.
type Records struct {
	Curriculums []Curriculum
	Units       []Unit
	Topics      []Topic
	SubTopics   []SubTopic
}

// MemoryRepository serves curriculum content held in memory. It backs the
// YAML and workbook loaders and is safe for concurrent reads.
type MemoryRepository struct {
	records Records
	mu      sync.RWMutex
}

// NewMemoryRepository creates a repository over a copy of the given records.
func NewMemoryRepository(r Records) *MemoryRepository {
	return &MemoryRepository{
		records: Records{
			Curriculums: append([]Curriculum{}, r.Curriculums...),
			Units:       append([]Unit{}, r.Units...),
			Topics:      append([]Topic{}, r.Topics...),
			SubTopics:   append([]SubTopic{}, r.SubTopics...),
		},
	}
}

func (m *MemoryRepository) ListCurriculums(ctx context.Context) ([]Curriculum, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list curriculums", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Curriculum{}, m.records.Curriculums...), nil
}

func (m *MemoryRepository) ListUnits(ctx context.Context, curriculumID string) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list units", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Filter(m.records.Units, func(u Unit, _ int) bool {
		return u.CurriculumID == curriculumID
	}), nil
}

func (m *MemoryRepository) ListTopics(ctx context.Context, unitID string) ([]Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list topics", err)
	}
	m.mu.RLock()
	topics := lo.Filter(m.records.Topics, func(t Topic, _ int) bool {
		return t.UnitID == unitID
	})
	m.mu.RUnlock()

	sortTopics(topics)
	return topics, nil
}

func (m *MemoryRepository) ListSubTopics(ctx context.Context, topicID string) ([]SubTopic, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list sub-topics", err)
	}
	m.mu.RLock()
	subs := lo.Filter(m.records.SubTopics, func(s SubTopic, _ int) bool {
		return s.TopicID == topicID
	})
	m.mu.RUnlock()

	sortSubTopics(subs)
	return subs, nil
}

// Counts returns the number of records per collection, for startup logging.
func (m *MemoryRepository) Counts() (curriculums, units, topics, subTopics int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records.Curriculums), len(m.records.Units), len(m.records.Topics), len(m.records.SubTopics)
}

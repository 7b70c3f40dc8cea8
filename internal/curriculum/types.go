package curriculum

import (
	"cmp"
	"slices"
)

// Curriculum is a top-level syllabus grouping, e.g. an exam board level.
type Curriculum struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Level string `json:"level" yaml:"level"`
}

// Label is the display name used by course selectors ("Name - Level").
func (c Curriculum) Label() string {
	if c.Level == "" {
		return c.Name
	}
	return c.Name + " - " + c.Level
}

// Unit is a subdivision of a curriculum.
type Unit struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	CurriculumID string `json:"curriculum_id" yaml:"curriculum_id"`
}

// Topic is an ordered subdivision of a unit.
type Topic struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	OrderIndex int    `json:"order_index" yaml:"order_index"`
	UnitID     string `json:"unit_id" yaml:"unit_id"`
}

// SubTopic is the smallest taught unit. ContentGuidelines is the
// pedagogical contract handed to the tutor verbatim.
type SubTopic struct {
	ID                string `json:"id" yaml:"id"`
	Name              string `json:"name" yaml:"name"`
	OrderIndex        int    `json:"order_index" yaml:"order_index"`
	ContentGuidelines string `json:"content_guidelines" yaml:"content_guidelines"`
	TopicID           string `json:"topic_id" yaml:"topic_id"`
}

func sortTopics(topics []Topic) {
	slices.SortStableFunc(topics, func(a, b Topic) int {
		return cmp.Or(cmp.Compare(a.OrderIndex, b.OrderIndex), cmp.Compare(a.ID, b.ID))
	})
}

func sortSubTopics(subs []SubTopic) {
	slices.SortStableFunc(subs, func(a, b SubTopic) int {
		return cmp.Or(cmp.Compare(a.OrderIndex, b.OrderIndex), cmp.Compare(a.ID, b.ID))
	})
}

package curriculum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// Supabase table names.
const (
	tableCurriculums = "curriculums"
	tableUnits       = "units"
	tableTopics      = "topics"
	tableSubTopics   = "sub_topics"
)

// SupabaseRepository reads the curriculum from a Supabase project through
// its PostgREST API.
type SupabaseRepository struct {
	client *supabase.Client
}

// NewSupabaseRepository creates a repository for the project at url,
// authenticated with key.
func NewSupabaseRepository(url, key string) (*SupabaseRepository, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	return &SupabaseRepository{client: client}, nil
}

// postgrest-go calls take no context, so cancellation is only honoured
// before a query is sent.

func (r *SupabaseRepository) ListCurriculums(ctx context.Context) ([]Curriculum, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list curriculums", err)
	}
	var rows []supabaseCurriculum
	if _, err := r.client.From(tableCurriculums).Select("*", "", false).ExecuteTo(&rows); err != nil {
		return nil, unavailable("list curriculums", err)
	}
	out := make([]Curriculum, 0, len(rows))
	for _, row := range rows {
		out = append(out, Curriculum{ID: string(row.ID), Name: row.Name, Level: row.Level})
	}
	return out, nil
}

func (r *SupabaseRepository) ListUnits(ctx context.Context, curriculumID string) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list units", err)
	}
	var rows []supabaseUnit
	if _, err := r.client.From(tableUnits).Select("*", "", false).
		Eq("curriculum_id", curriculumID).
		ExecuteTo(&rows); err != nil {
		return nil, unavailable("list units", err)
	}
	out := make([]Unit, 0, len(rows))
	for _, row := range rows {
		out = append(out, Unit{ID: string(row.ID), Name: row.Name, CurriculumID: string(row.CurriculumID)})
	}
	return out, nil
}

func (r *SupabaseRepository) ListTopics(ctx context.Context, unitID string) ([]Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list topics", err)
	}
	var rows []supabaseTopic
	if _, err := r.client.From(tableTopics).Select("*", "", false).
		Eq("unit_id", unitID).
		Order("order_index", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, unavailable("list topics", err)
	}
	out := make([]Topic, 0, len(rows))
	for _, row := range rows {
		out = append(out, Topic{
			ID:         string(row.ID),
			Name:       row.Name,
			OrderIndex: row.OrderIndex,
			UnitID:     string(row.UnitID),
		})
	}
	sortTopics(out)
	return out, nil
}

func (r *SupabaseRepository) ListSubTopics(ctx context.Context, topicID string) ([]SubTopic, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list sub-topics", err)
	}
	var rows []supabaseSubTopic
	if _, err := r.client.From(tableSubTopics).Select("*", "", false).
		Eq("topic_id", topicID).
		Order("order_index", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows); err != nil {
		return nil, unavailable("list sub-topics", err)
	}
	out := make([]SubTopic, 0, len(rows))
	for _, row := range rows {
		out = append(out, SubTopic{
			ID:                string(row.ID),
			Name:              row.Name,
			OrderIndex:        row.OrderIndex,
			ContentGuidelines: row.ContentGuidelines,
			TopicID:           string(row.TopicID),
		})
	}
	sortSubTopics(out)
	return out, nil
}

// rowID accepts both integer and text primary keys.
type rowID string

func (id *rowID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = rowID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = rowID(n.String())
	return nil
}

type supabaseCurriculum struct {
	ID    rowID  `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level"`
}

type supabaseUnit struct {
	ID           rowID  `json:"id"`
	Name         string `json:"name"`
	CurriculumID rowID  `json:"curriculum_id"`
}

type supabaseTopic struct {
	ID         rowID  `json:"id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
	UnitID     rowID  `json:"unit_id"`
}

type supabaseSubTopic struct {
	ID                rowID  `json:"id"`
	Name              string `json:"name"`
	OrderIndex        int    `json:"order_index"`
	ContentGuidelines string `json:"content_guidelines"`
	TopicID           rowID  `json:"topic_id"`
}

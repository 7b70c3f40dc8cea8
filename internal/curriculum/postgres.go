package curriculum

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryTimeout = 5 * time.Second

// PostgresRepository reads the curriculum tables directly from PostgreSQL.
// Ids are cast to text so integer and uuid keys are both supported.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) ListCurriculums(ctx context.Context) ([]Curriculum, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, COALESCE(level, '')
		 FROM curriculums
		 ORDER BY name ASC`,
	)
	if err != nil {
		return nil, unavailable("list curriculums", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Curriculum, error) {
		var c Curriculum
		err := row.Scan(&c.ID, &c.Name, &c.Level)
		return c, err
	})
	if err != nil {
		return nil, unavailable("list curriculums", err)
	}
	return nonNil(out), nil
}

func (r *PostgresRepository) ListUnits(ctx context.Context, curriculumID string) ([]Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, curriculum_id::text
		 FROM units
		 WHERE curriculum_id::text = $1
		 ORDER BY name ASC`,
		curriculumID,
	)
	if err != nil {
		return nil, unavailable("list units", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Unit, error) {
		var u Unit
		err := row.Scan(&u.ID, &u.Name, &u.CurriculumID)
		return u, err
	})
	if err != nil {
		return nil, unavailable("list units", err)
	}
	return nonNil(out), nil
}

func (r *PostgresRepository) ListTopics(ctx context.Context, unitID string) ([]Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, order_index, unit_id::text
		 FROM topics
		 WHERE unit_id::text = $1
		 ORDER BY order_index ASC, id ASC`,
		unitID,
	)
	if err != nil {
		return nil, unavailable("list topics", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Topic, error) {
		var t Topic
		err := row.Scan(&t.ID, &t.Name, &t.OrderIndex, &t.UnitID)
		return t, err
	})
	if err != nil {
		return nil, unavailable("list topics", err)
	}
	return nonNil(out), nil
}

func (r *PostgresRepository) ListSubTopics(ctx context.Context, topicID string) ([]SubTopic, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id::text, name, order_index, COALESCE(content_guidelines, ''), topic_id::text
		 FROM sub_topics
		 WHERE topic_id::text = $1
		 ORDER BY order_index ASC, id ASC`,
		topicID,
	)
	if err != nil {
		return nil, unavailable("list sub-topics", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SubTopic, error) {
		var s SubTopic
		err := row.Scan(&s.ID, &s.Name, &s.OrderIndex, &s.ContentGuidelines, &s.TopicID)
		return s, err
	})
	if err != nil {
		return nil, unavailable("list sub-topics", err)
	}
	return nonNil(out), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

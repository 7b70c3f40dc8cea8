// Package curriculum provides read-only access to the curriculum hierarchy
// (curriculum → unit → topic → sub-topic) from the configured content store.
package curriculum

import (
	"context"
	"errors"
	"fmt"
)

// ErrDataUnavailable marks a failed read from the content store. It is never
// returned for a query that legitimately has no results.
var ErrDataUnavailable = errors.New("curriculum data unavailable")

// Repository is the read interface over the four curriculum collections.
// Implementations return a non-nil, possibly empty slice on success, and an
// error matching ErrDataUnavailable when the backing store cannot be read.
// ListTopics and ListSubTopics are ordered by OrderIndex ascending.
type Repository interface {
	ListCurriculums(ctx context.Context) ([]Curriculum, error)
	ListUnits(ctx context.Context, curriculumID string) ([]Unit, error)
	ListTopics(ctx context.Context, unitID string) ([]Topic, error)
	ListSubTopics(ctx context.Context, topicID string) ([]SubTopic, error)
}

// unavailable wraps a backend error so that it matches ErrDataUnavailable
// while keeping the cause inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDataUnavailable, err)
}

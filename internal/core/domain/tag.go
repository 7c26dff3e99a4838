package domain

import "time"

// Tag is shared across projects via a weak many-to-many relation; it is not
// on the pipeline's critical path.
type Tag struct {
	ID        string
	Name      string
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

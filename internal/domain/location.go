package domain

import "time"

// Location is a named place a concern can be reported against.
type Location struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

package models

import "time"

// Stakeholder is a secondary entity referenced by meetings. It carries no
// heavy content; its whole record is its metadata.
type Stakeholder struct {
	ID           string
	Name         string
	Role         string
	Organization string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
	DeletedAt time.Time
}

// Category is a secondary entity used to group meetings.
type Category struct {
	ID    string
	Name  string
	Color string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Deleted   bool
	DeletedAt time.Time
}

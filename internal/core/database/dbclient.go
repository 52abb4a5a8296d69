package db

import (
	"github.com/markdave123-py/coursebot/internal/core"
)

// DbClient is everything the application needs from the database.
type DbClient interface {
	core.ResourceStore
	core.QuestionStore
	core.SearchStore

	Close() error
}

var _ DbClient = (*DatabaseClient)(nil)

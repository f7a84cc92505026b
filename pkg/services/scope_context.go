package services

import (
	"context"

	"github.com/gla-ilr/ilr-engine/pkg/database"
)

// ScopeContextFunc acquires a database scope for work that outlives the
// request that started it. Returns the scoped context, a cleanup function
// (MUST be called), and any error.
type ScopeContextFunc func(ctx context.Context) (context.Context, func(), error)

// NewScopeContextFunc creates a ScopeContextFunc that uses the given database.
func NewScopeContextFunc(db *database.DB) ScopeContextFunc {
	return database.NewScopeProvider(db).WithScope
}

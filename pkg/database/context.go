package database

import (
	"context"
	"fmt"
)

type contextKey string

// ScopeKey is the context key for the request's database scope.
const ScopeKey contextKey = "dbScope"

// GetScope retrieves the database scope from context.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// QuerierFrom returns the querier of the scope in context.
func QuerierFrom(ctx context.Context) (Querier, error) {
	scope, ok := GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}
	return scope.Querier(), nil
}

// ScopeProvider creates scoped contexts for work that runs outside a request,
// such as background uploads.
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithScope returns a context carrying a freshly acquired scope.
// The cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// Transactor controls the transaction of the scope carried by a context.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ContextTransactor is the Transactor backed by the scope in context.
type ContextTransactor struct{}

var _ Transactor = ContextTransactor{}

func (ContextTransactor) Begin(ctx context.Context) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	return scope.Begin(ctx)
}

func (ContextTransactor) Commit(ctx context.Context) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	return scope.Commit(ctx)
}

func (ContextTransactor) Rollback(ctx context.Context) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}
	return scope.Rollback(ctx)
}

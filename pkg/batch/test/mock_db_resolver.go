package test

import (
	"context"

	"github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
)

// SingleConnectionResolver always resolves to the same connection, whatever the name.
type SingleConnectionResolver struct {
	Conn database.DBConnection
}

// NewSingleConnectionResolver creates a SingleConnectionResolver.
func NewSingleConnectionResolver(conn database.DBConnection) *SingleConnectionResolver {
	return &SingleConnectionResolver{Conn: conn}
}

// ResolveDBConnection implements database.DBConnectionResolver.
func (r *SingleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	return r.Conn, nil
}

var _ database.DBConnectionResolver = (*SingleConnectionResolver)(nil)

package storage

import (
	"context"

	"github.com/defistate/clamm-engine-go/pool"
)

// Store persists pool snapshots under a name.
type Store interface {
	SaveSnapshot(ctx context.Context, name string, st *pool.State) error
	LoadSnapshot(ctx context.Context, name string) (*pool.State, bool, error)
}

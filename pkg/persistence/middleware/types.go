// Package middleware decorates execution stores with behavior applied at the
// persistence boundary.
package middleware

import "github.com/aretw0/parley/pkg/ports"

// Middleware allows wrapping an ExecutionStore to add behavior.
type Middleware func(ports.ExecutionStore) ports.ExecutionStore

// Chain applies mws so that the first one is the outermost.
func Chain(store ports.ExecutionStore, mws ...Middleware) ports.ExecutionStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}

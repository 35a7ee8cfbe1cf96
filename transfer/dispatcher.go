// Package transfer routes asset movements to token-standard adapters keyed
// by a 4-byte kind, so settlement logic stays independent of the standard.
package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Dispatcher maps kinds to adapters. Bindings are changed only through the
// owner-gated admin surface of the settlement kernel.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

// NewDispatcher binds each adapter to its kind; later adapters replace
// earlier ones of the same kind.
func NewDispatcher(adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{adapters: make(map[Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		d.adapters[a.Kind()] = a
	}
	return d
}

// Register binds an adapter and reports whether it replaced an existing one.
func (d *Dispatcher) Register(a Adapter) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, replaced := d.adapters[a.Kind()]
	d.adapters[a.Kind()] = a
	return replaced
}

// Remove unbinds a kind and reports whether it was bound.
func (d *Dispatcher) Remove(kind Kind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.adapters[kind]
	delete(d.adapters, kind)
	return ok
}

func (d *Dispatcher) Adapter(kind Kind) (Adapter, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.adapters[kind]
	return a, ok
}

func (d *Dispatcher) Supports(kind Kind) bool {
	_, ok := d.Adapter(kind)
	return ok
}

// Kinds lists bound kinds in byte order.
func (d *Dispatcher) Kinds() []Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kinds := make([]Kind, 0, len(d.adapters))
	for k := range d.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		return string(kinds[i][:]) < string(kinds[j][:])
	})
	return kinds
}

// Transfer forwards to the adapter bound to kind. Unknown kinds fail before
// any token is touched.
func (d *Dispatcher) Transfer(ctx context.Context, kind Kind, token, spender, from, to common.Address, id, amount *big.Int) error {
	a, ok := d.Adapter(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrKindUnknown, kind)
	}
	return a.Transfer(ctx, token, spender, from, to, id, amount)
}

package host

import (
	"bytes"
	"context"

	"github.com/jmerrifield20/herbledger/internal/state"
)

// txContext is the contract's view of the store for one invocation. Reads go
// to the committed store, except that a key already written in this
// invocation reads back its pending value. Writes are buffered until commit.
type txContext struct {
	store  state.Store
	order  []string
	writes map[string][]byte
}

func newTxContext(store state.Store) *txContext {
	return &txContext{store: store, writes: make(map[string][]byte)}
}

func (t *txContext) GetState(ctx context.Context, key string) ([]byte, error) {
	if v, ok := t.writes[key]; ok {
		return bytes.Clone(v), nil
	}
	return t.store.Get(ctx, key)
}

func (t *txContext) PutState(_ context.Context, key string, value []byte) error {
	if err := state.ValidateKey(key); err != nil {
		return err
	}
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = bytes.Clone(value)
	return nil
}

func (t *txContext) GetHistoryForKey(ctx context.Context, key string) (state.HistoryIterator, error) {
	return t.store.History(ctx, key)
}

// writeSet returns the buffered writes in first-write order.
func (t *txContext) writeSet() []state.Write {
	out := make([]state.Write, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, state.Write{Key: k, Value: t.writes[k]})
	}
	return out
}

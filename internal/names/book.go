package names

import (
	"context"
	"errors"
	"strings"

	"github.com/quailyquaily/peerchat/peerchat"
)

// Book resolves names from the local name book of a peerchat store.
type Book struct {
	store peerchat.Store
}

func NewBook(store peerchat.Store) *Book {
	return &Book{store: store}
}

func (b *Book) ResolveName(ctx context.Context, name string) (string, error) {
	record, ok, err := b.store.GetName(ctx, name)
	if err != nil {
		return "", peerchat.WrapCause(peerchat.ErrResolution, err, "read name book")
	}
	if !ok {
		return "", peerchat.WrapError(peerchat.ErrNameNotFound, "%s", strings.TrimSpace(name))
	}
	return record.Address, nil
}

// Chain tries each service in order. A not-found answer falls through to the
// next service; any other failure stops the chain.
type Chain []peerchat.NameService

func (c Chain) ResolveName(ctx context.Context, name string) (string, error) {
	var last error
	for _, svc := range c {
		if svc == nil {
			continue
		}
		address, err := svc.ResolveName(ctx, name)
		if err == nil {
			return address, nil
		}
		if !errors.Is(err, peerchat.ErrNameNotFound) {
			return "", err
		}
		last = err
	}
	if last == nil {
		last = peerchat.WrapError(peerchat.ErrNameNotFound, "%s", strings.TrimSpace(name))
	}
	return "", last
}

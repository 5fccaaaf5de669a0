package auction

import (
	"context"
	"errors"
	"slices"

	"github.com/Checker-Finance/auction/pkg/model"
)

// Ledger moves value between identities. Transfer must be all-or-nothing.
type Ledger interface {
	Transfer(ctx context.Context, from, to model.Identity, amount int64) error
}

// Notifier receives events after a mutation has been committed. It must not
// call back into the engine synchronously for the same listing.
type Notifier interface {
	Notify(ctx context.Context, ev model.Event)
}

// CreatePolicy decides who may create listings.
type CreatePolicy interface {
	MayCreate(ctx context.Context, caller model.Identity) bool
}

var errNoLedger = errors.New("no ledger configured")

type noLedger struct{}

func (noLedger) Transfer(context.Context, model.Identity, model.Identity, int64) error {
	return errNoLedger
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, model.Event) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev model.Event)

func (f NotifierFunc) Notify(ctx context.Context, ev model.Event) { f(ctx, ev) }

// AllowAll lets any caller create listings.
type AllowAll struct{}

func (AllowAll) MayCreate(context.Context, model.Identity) bool { return true }

// Allowlist restricts creation to a fixed set of identities.
type Allowlist []model.Identity

func (a Allowlist) MayCreate(_ context.Context, caller model.Identity) bool {
	return !caller.IsNone() && slices.Contains(a, caller)
}

package task

import "context"

//go:generate mockgen -source=dispatcher.go -destination=./mocks/mock_dispatcher.go -package=mocks

// Dispatcher enqueues work after the caller's transaction has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind Kind, payload any) error
}

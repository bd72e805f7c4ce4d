package core

import "context"

// PropertyStore keeps small JSON values, a missing key leaves value untouched.
type PropertyStore interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any) error
}

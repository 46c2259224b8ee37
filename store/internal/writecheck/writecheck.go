// Package writecheck interprets the outcome of the conditional writes the
// grove backends issue: the insert-once registry record and the
// version-guarded asset update.
package writecheck

import (
	"context"

	"github.com/xraph/rental"
)

// Inserted maps the rows affected by a registry insert that does nothing on
// conflict.
func Inserted(affected int64) error {
	if affected == 0 {
		return rental.ErrAlreadyInitialized
	}
	return nil
}

// Updated maps the rows matched by an update guarded on index and version.
// When nothing matched, lookup tells a missing asset from a stale version.
func Updated(ctx context.Context, affected int64, lookup func(context.Context) error) error {
	if affected > 0 {
		return nil
	}
	if err := lookup(ctx); err != nil {
		return err
	}
	return rental.ErrConcurrentModification
}

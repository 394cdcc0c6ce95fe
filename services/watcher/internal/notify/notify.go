// Package notify forwards newly stored readings to message brokers.
package notify

import (
	"context"
	"errors"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

// Notifier publishes readings after they were stored.
type Notifier interface {
	Publish(ctx context.Context, readings []models.Reading) error
	Close() error
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

// Publish calls every notifier even when an earlier one fails.
func (m Multi) Publish(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if err := n.Publish(ctx, readings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every notifier.
func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

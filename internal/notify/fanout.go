package notify

import (
	"context"
	"errors"

	"ridetrack/internal/modules/tracking"
)

// Fanout delivers progress to every notifier and joins their errors.
type Fanout []tracking.PassengerNotifier

func (f Fanout) NotifyRideProgress(ctx context.Context, p tracking.Progress) error {
	var errs []error
	for _, n := range f {
		if err := n.NotifyRideProgress(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

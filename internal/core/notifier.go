package core

import "context"

// Notifiers fans an event out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, event JobEvent) {
	for _, n := range ns {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

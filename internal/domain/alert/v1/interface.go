package alertv1

import "context"

// Sink delivers a fired alert to one downstream endpoint. Delivery is
// best-effort: a false return means the alert was lost at this sink, and no
// retry or queueing happens upstream.
type Sink interface {
	Deliver(ctx context.Context, event *AlertEvent) bool
}

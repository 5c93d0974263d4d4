package driven

import "context"

// Notifier defines the driven port for posting failure alerts to an
// external sink.
type Notifier interface {
	Post(ctx context.Context, text string) error
}

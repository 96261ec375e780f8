package events

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/pkgsend/internal/shared"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

// Sink consumes registry updates.
type Sink interface {
	Handle(u tasks.Update)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(tasks.Update)

func (f SinkFunc) Handle(u tasks.Update) { f(u) }

// Dispatch forwards every update to each sink in order until ctx is cancelled or updates is
// closed. A panicking sink is logged and skipped for that update.
func Dispatch(ctx context.Context, updates <-chan tasks.Update, logger *log.Logger, sinks ...Sink) {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	logger = shared.WithLogger(logger, "component", "events")

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			for _, s := range sinks {
				deliver(s, u, logger)
			}
		}
	}
}

func deliver(s Sink, u tasks.Update, logger *log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sink panic recovered", "kind", u.Kind, "panic", r)
		}
	}()
	s.Handle(u)
}

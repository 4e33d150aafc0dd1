package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes every event to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Notify(_ context.Context, ev Event) error {
	l.Logger.Info().
		Str("type", string(ev.Type)).
		Str("task_id", ev.TaskID).
		Str("project_id", ev.ProjectID).
		Str("actor_id", ev.ActorID).
		Strs("recipients", ev.Recipients).
		Interface("payload", ev.Payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("notification")
	return nil
}

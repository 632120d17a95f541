package model

import "context"

type contextKey string

const (
	ContextJobID   contextKey = "jobID"
	ContextTrigger contextKey = "trigger"
)

// Print triggers recorded on the dispatch context.
const (
	TriggerRealtime = "realtime"
	TriggerManual   = "manual"
)

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextJobID, id)
}

func JobID(ctx context.Context) string {
	id, _ := ctx.Value(ContextJobID).(string)
	return id
}

func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, ContextTrigger, trigger)
}

func Trigger(ctx context.Context) string {
	t, _ := ctx.Value(ContextTrigger).(string)
	return t
}

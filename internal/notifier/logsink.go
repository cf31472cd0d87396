package notifier

import (
	"context"

	kit "l9alerts/internal/transport"
)

// LogSink forwards operator log lines to one chat through the queue.
type LogSink struct {
	Service *Service
	Channel string
	ChatID  int64
}

func (l LogSink) SendLog(ctx context.Context, text string) error {
	if l.Service == nil || l.ChatID == 0 {
		return nil
	}
	return l.Service.Notify(ctx, kit.Notification{
		Channel:  l.Channel,
		Priority: PriorityWarning,
		Target:   kit.ChatTarget{ChatID: l.ChatID},
		Text:     text,
		Options:  &kit.SendOptions{DisablePreview: true},
	})
}

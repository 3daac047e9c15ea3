package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-assistant/internal/bot"
	"github.com/dvloznov/finance-assistant/internal/jobs"
	"github.com/dvloznov/finance-assistant/internal/logger"
)

// Processor turns a message job into a reply.
type Processor interface {
	Process(ctx context.Context, job *jobs.MessageJob) bot.Reply
}

// Transport delivers replies to the chat room a job came from.
type Transport interface {
	Download(ctx context.Context, mxc string) ([]byte, error)
	Send(ctx context.Context, roomID string, reply bot.Reply) error
	SetTyping(ctx context.Context, roomID string, typing bool)
}

// JobHandler processes queued messages. Voice jobs that only carry a media
// URL are downloaded through t first. With a nil transport, or a job without
// a room, the reply is only stored on the job.
func JobHandler(p Processor, t Transport) jobs.JobHandler {
	return func(ctx context.Context, job *jobs.MessageJob) error {
		deliver := t != nil && job.RoomID != ""
		if deliver {
			t.SetTyping(ctx, job.RoomID, true)
			defer t.SetTyping(ctx, job.RoomID, false)
		}

		if job.Kind == jobs.KindVoice && len(job.Audio) == 0 {
			if job.MediaURL == "" || t == nil {
				return fmt.Errorf("JobHandler: voice job %s has no audio", job.JobID)
			}
			audio, err := t.Download(ctx, job.MediaURL)
			if err != nil {
				if deliver {
					if sendErr := t.Send(ctx, job.RoomID, bot.Reply{Text: bot.MessageVoiceFailed}); sendErr != nil {
						log := logger.FromContext(ctx)
						log.Warn().Err(sendErr).Msg("Failed to report download failure")
					}
				}
				return fmt.Errorf("JobHandler: downloading voice: %w", err)
			}
			job.Audio = audio
		}

		reply := p.Process(ctx, job)
		job.Audio = nil
		if !deliver {
			return nil
		}
		if err := t.Send(ctx, job.RoomID, reply); err != nil {
			return fmt.Errorf("JobHandler: sending reply: %w", err)
		}
		return nil
	}
}

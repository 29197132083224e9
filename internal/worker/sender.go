package worker

import (
	"context"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// BotSender sends replies through the Telegram Bot API.
type BotSender struct {
	Bot *gotgbot.Bot
}

func (s BotSender) SendText(ctx context.Context, chatID, replyTo int64, text string) error {
	opts := &gotgbot.SendMessageOpts{}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo}
	}
	_, err := s.Bot.SendMessageWithContext(ctx, chatID, text, opts)
	return err
}

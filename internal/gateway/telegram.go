package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramLimit = 4096

type TelegramGateway struct {
	Bot   *tgbotapi.BotAPI
	Asker Asker
}

func NewTelegramGateway(token string, asker Asker) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:   bot,
		Asker: asker,
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}

			log.Printf("[%s] %s", update.Message.From.UserName, update.Message.Text)

			chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
			ans, err := tg.Asker.Ask(ctx, chatID, update.Message.Text)
			if err != nil {
				log.Printf("Error answering: %v", err)
			}

			if err := tg.Send(chatID, Reply(ans, err)); err != nil {
				log.Printf("Error sending reply: %v", err)
			}
		}
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	for _, part := range Chunk(text, telegramLimit) {
		msg := tgbotapi.NewMessage(id, part)
		if _, err := tg.Bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

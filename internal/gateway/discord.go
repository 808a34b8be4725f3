package gateway

import (
	"context"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const discordLimit = 2000

type DiscordGateway struct {
	Session *discordgo.Session
	Asker   Asker

	ctx context.Context
}

func NewDiscordGateway(token string, asker Asker) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

	dg := &DiscordGateway{Session: session, Asker: asker, ctx: context.Background()}
	session.AddHandler(dg.onMessage)
	return dg, nil
}

func (dg *DiscordGateway) Start(ctx context.Context) error {
	dg.ctx = ctx
	if err := dg.Session.Open(); err != nil {
		return err
	}
	if dg.Session.State != nil && dg.Session.State.User != nil {
		log.Printf("Authorized on Discord as %s", dg.Session.State.User.Username)
	}

	<-ctx.Done()
	return dg.Stop()
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	question := strings.TrimSpace(m.Content)
	if question == "" {
		return
	}

	log.Printf("[%s] %s", m.Author.Username, question)

	ans, err := dg.Asker.Ask(dg.ctx, m.ChannelID, question)
	if err != nil {
		log.Printf("Error answering: %v", err)
	}
	if err := dg.Send(m.ChannelID, Reply(ans, err)); err != nil {
		log.Printf("Error sending reply: %v", err)
	}
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	for _, part := range Chunk(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(chatID, part); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}

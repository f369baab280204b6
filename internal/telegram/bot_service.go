// Package telegram lets Telegram users join the chat. Every Telegram chat is
// a connection driven through the same protocol handler as WebSocket clients.
package telegram

import (
	"context"
	"sync"

	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/localization"
	"strangerchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// BotService receives Telegram updates and routes them to the chat handler.
type BotService struct {
	BotAPI    *tgbotapi.BotAPI
	Sender    Sender
	Chat      *chathub.Handler
	Hub       *chathub.Hub
	Localizer *localization.Localizer

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewBotService connects to the Bot API with token.
func NewBotService(token string, chat *chathub.Handler, hub *chathub.Hub, localizer *localization.Localizer) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Info().Str("account", bot.Self.UserName).Msg("telegram bot authorized")

	s := newBotService(bot, chat, hub, localizer)
	s.BotAPI = bot
	return s, nil
}

func newBotService(sender Sender, chat *chathub.Handler, hub *chathub.Hub, localizer *localization.Localizer) *BotService {
	return &BotService{
		Sender:    sender,
		Chat:      chat,
		Hub:       hub,
		Localizer: localizer,
		clients:   make(map[int64]*Client),
	}
}

// language picks a bundled language for the Telegram user.
func (s *BotService) language(from *tgbotapi.User) string {
	if from != nil && s.Localizer.Has(from.LanguageCode) {
		return from.LanguageCode
	}
	return localization.DefaultLanguage
}

// getOrCreateClient returns the chat's connection, connecting it first if
// needed.
func (s *BotService) getOrCreateClient(ctx context.Context, chatID int64, lang string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[chatID]; ok {
		return c, nil
	}

	c := NewClient(chatID, lang, s.Sender, s.Localizer)
	s.Hub.Attach(c)
	if err := s.Chat.Connect(ctx, c.ID(), c.UserID()); err != nil {
		s.Hub.Detach(c.ID())
		return nil, err
	}
	s.clients[chatID] = c
	c.Run()
	return c, nil
}

// dropClient disconnects the chat and forgets its connection.
func (s *BotService) dropClient(ctx context.Context, chatID int64) {
	s.mu.Lock()
	c, ok := s.clients[chatID]
	delete(s.clients, chatID)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.Chat.Disconnect(ctx, c.ID()); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("telegram disconnect failed")
	}
	s.Hub.Detach(c.ID())
	c.Close()
}

// RestoreActiveSessions reconnects Telegram users that are still in an
// active room, so their partner's messages reach them after a restart.
func (s *BotService) RestoreActiveSessions(ctx context.Context) {
	roomIDs, err := s.Chat.Rooms.Storage.ListActiveRoomIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active rooms")
		return
	}

	restored := 0
	for _, roomID := range roomIDs {
		room, err := s.Chat.Rooms.GetRoomByID(ctx, roomID)
		if err != nil {
			continue
		}
		for _, userID := range room.Participants {
			chatID, ok := ChatIDFromUser(userID)
			if !ok {
				continue
			}
			c, err := s.getOrCreateClient(ctx, chatID, localization.DefaultLanguage)
			if err != nil {
				log.Error().Err(err).Str("user", userID).Msg("failed to restore telegram session")
				continue
			}
			if err := s.Hub.Join(ctx, c.ID(), room.ID); err != nil {
				log.Error().Err(err).Str("room", room.ID).Msg("failed to rejoin room")
				continue
			}
			restored++
		}
	}
	log.Info().Int("sessions", restored).Msg("telegram sessions restored")
}

// Run receives updates until ctx is cancelled, then disconnects every chat.
func (s *BotService) Run(ctx context.Context) {
	s.RestoreActiveSessions(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			s.shutdown()
			return
		case update, ok := <-updates:
			if !ok {
				s.shutdown()
				return
			}
			if update.Message != nil {
				evCtx, cancel := context.WithTimeout(ctx, config.EventTimeout)
				s.HandleMessage(evCtx, update.Message)
				cancel()
			}
		}
	}
}

func (s *BotService) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), config.EventTimeout)
	defer cancel()

	s.mu.Lock()
	chatIDs := make([]int64, 0, len(s.clients))
	for id := range s.clients {
		chatIDs = append(chatIDs, id)
	}
	s.mu.Unlock()

	for _, id := range chatIDs {
		s.dropClient(ctx, id)
	}
}

// HandleMessage maps one incoming Telegram message onto protocol events.
func (s *BotService) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	lang := s.language(msg.From)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			s.reply(chatID, lang, "help")
			return
		case "quit":
			s.dropClient(ctx, chatID)
			s.reply(chatID, lang, "goodbye")
			return
		}
	}

	c, err := s.getOrCreateClient(ctx, chatID, lang)
	if err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("failed to connect telegram chat")
		return
	}

	if msg.IsCommand() {
		s.handleCommand(ctx, c, msg.Command())
		return
	}

	if msg.Text == "" {
		s.reply(chatID, c.Lang, "unsupported_message_type")
		return
	}
	roomID, ok := s.currentRoom(ctx, c)
	if !ok {
		s.reply(chatID, c.Lang, "not_in_chat")
		return
	}
	s.dispatch(ctx, c, models.EventSendMessage, models.RoomPayload{RoomID: roomID, Content: msg.Text})
}

func (s *BotService) handleCommand(ctx context.Context, c *Client, command string) {
	switch command {
	case "find":
		s.dispatch(ctx, c, models.EventFindPartner, nil)
	case "next":
		roomID, _ := s.currentRoom(ctx, c)
		s.dispatch(ctx, c, models.EventSkipPartner, models.RoomPayload{RoomID: roomID})
	case "stop", "read":
		roomID, ok := s.currentRoom(ctx, c)
		if !ok && command == "stop" {
			s.stopSearch(ctx, c)
			return
		}
		if !ok {
			s.reply(c.ChatID, c.Lang, "not_in_chat")
			return
		}
		event := models.EventLeaveRoom
		if command == "read" {
			event = models.EventMarkAsRead
		}
		s.dispatch(ctx, c, event, models.RoomPayload{RoomID: roomID})
	default:
		s.reply(c.ChatID, c.Lang, "unknown_command")
	}
}

// currentRoom returns the chat's active room, if it has one.
// stopSearch leaves the waiting queue when there is no room to leave.
func (s *BotService) stopSearch(ctx context.Context, c *Client) {
	cancelled, err := s.Chat.CancelSearch(ctx, UserID(c.ChatID))
	if err != nil {
		log.Error().Err(err).Int64("chat", c.ChatID).Msg("cancel search failed")
		s.reply(c.ChatID, c.Lang, "not_in_chat")
		return
	}
	if !cancelled {
		s.reply(c.ChatID, c.Lang, "not_in_chat")
		return
	}
	s.reply(c.ChatID, c.Lang, "search_stopped")
}

func (s *BotService) currentRoom(ctx context.Context, c *Client) (string, bool) {
	rooms, err := s.Chat.Rooms.GetUserRooms(ctx, c.UserID())
	if err != nil {
		log.Error().Err(err).Int64("chat", c.ChatID).Msg("failed to load rooms")
		return "", false
	}
	if len(rooms) == 0 {
		return "", false
	}
	return rooms[0].ID, true
}

func (s *BotService) dispatch(ctx context.Context, c *Client, event string, payload any) {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to encode telegram event")
		return
	}
	s.Chat.Dispatch(ctx, c.ID(), c.UserID(), env)
}

func (s *BotService) reply(chatID int64, lang, key string) {
	if _, err := s.Sender.Send(tgbotapi.NewMessage(chatID, s.Localizer.GetString(lang, key))); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("telegram reply failed")
	}
}

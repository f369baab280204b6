package telegram

import (
	"errors"
	"strconv"
	"strings"
	"sync"

	"strangerchat/backend/internal/chathub"
	"strangerchat/backend/internal/config"
	"strangerchat/backend/internal/localization"
	"strangerchat/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const (
	connPrefix = "tg:"
	userPrefix = "tg-"
)

var errClientClosed = errors.New("telegram client closed")

// Sender is the part of the Bot API the clients use. *tgbotapi.BotAPI
// satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ConnID is the connection handle of a Telegram chat.
func ConnID(chatID int64) string { return connPrefix + strconv.FormatInt(chatID, 10) }

// UserID is the chat user id of a Telegram chat.
func UserID(chatID int64) string { return userPrefix + strconv.FormatInt(chatID, 10) }

// ChatIDFromUser reverses UserID. ok is false for non-Telegram users.
func ChatIDFromUser(userID string) (chatID int64, ok bool) {
	raw, found := strings.CutPrefix(userID, userPrefix)
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Client is a chathub.Conn that renders events as Telegram messages.
type Client struct {
	ChatID int64
	Lang   string

	bot       Sender
	localizer *localization.Localizer

	mu     sync.Mutex
	closed bool
	send   chan models.Event
}

var _ chathub.Conn = (*Client)(nil)

func NewClient(chatID int64, lang string, bot Sender, localizer *localization.Localizer) *Client {
	return &Client{
		ChatID:    chatID,
		Lang:      lang,
		bot:       bot,
		localizer: localizer,
		send:      make(chan models.Event, config.SendBufferSize),
	}
}

func (c *Client) ID() string     { return ConnID(c.ChatID) }
func (c *Client) UserID() string { return UserID(c.ChatID) }

// Deliver queues ev for the write pump without blocking.
func (c *Client) Deliver(ev models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errors.New("telegram send buffer full")
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the write pump. Reading is done centrally by the BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) writePump() {
	for ev := range c.send {
		text := c.render(ev)
		if text == "" {
			continue
		}
		if _, err := c.bot.Send(tgbotapi.NewMessage(c.ChatID, text)); err != nil {
			log.Error().Err(err).Int64("chat", c.ChatID).Str("event", ev.Name).Msg("telegram send failed")
		}
	}
	log.Debug().Int64("chat", c.ChatID).Msg("telegram write pump stopped")
}

// render turns a server event into the text shown in the chat. An empty
// result means nothing is sent.
func (c *Client) render(ev models.Event) string {
	switch ev.Name {
	case models.EventWaiting:
		return c.text("searching")
	case models.EventPartnerFound:
		return c.text("partner_found")
	case models.EventRoomLeft:
		return c.text("room_left")
	case models.EventPartnerLeft:
		return c.text("partner_left")
	case models.EventPartnerDisconnected:
		return c.text("partner_disconnected")
	case models.EventMessagesRead:
		return c.text("messages_read")
	case models.EventReceiveMessage:
		var msg models.Message
		if err := ev.Decode(&msg); err != nil {
			log.Error().Err(err).Int64("chat", c.ChatID).Msg("bad receiveMessage payload")
			return ""
		}
		// Telegram already shows the user's own message
		if msg.SenderID == c.UserID() {
			return ""
		}
		return msg.Content
	case models.EventError:
		var p models.ErrorPayload
		_ = ev.Decode(&p)
		if p.Message == chathub.ErrAlreadyInSession.Error() {
			return c.text("already_in_chat")
		}
		return c.localizer.Format(c.Lang, "error", p.Message)
	default:
		log.Warn().Int64("chat", c.ChatID).Str("event", ev.Name).Msg("unhandled event for telegram client")
		return ""
	}
}

func (c *Client) text(key string) string {
	return c.localizer.GetString(c.Lang, key)
}

package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"trading-journal-bot/internal/models"
	"trading-journal-bot/internal/telegram"

	"go.uber.org/zap"
)

// Conversation prompts and acknowledgments.
const (
	promptPair         = "Let's log a trade. What instrument/pair? (e.g., BTCUSD, EURUSD)"
	promptDirection    = "Direction?"
	promptEntry        = "Enter ENTRY price (or type 'skip'):"
	promptEntryInvalid = "Invalid number. Please send entry price or 'skip'"
	promptExit         = "Exit price (or type 'skip' for open trade):"
	promptExitInvalid  = "Invalid number. Please send exit price or 'skip'"
	promptStop         = "Stop Loss (or 'skip'):"
	promptStopInvalid  = "Invalid number. Please send stop loss or 'skip'"
	promptSize         = "Size (units or lots) (or 'skip'):"
	promptSizeInvalid  = "Invalid. send numeric or 'skip'"
	promptNotes        = "Optional notes for this trade (or 'skip'):"
	msgCancelled       = "Cancelled."
	msgLogCancelled    = "Trade logging cancelled."
)

// Callback data values for the inline keyboards.
const (
	choiceLong   = "LONG"
	choiceShort  = "SHORT"
	choiceSave   = "SAVE"
	choiceCancel = "CANCEL"
)

// Messenger is the slice of the Telegram client the conversation needs.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
}

// TradeCreator is the slice of the trade store the conversation needs.
// It is only called at the SAVE transition.
type TradeCreator interface {
	Create(ctx context.Context, trade *models.Trade) (uint, error)
}

// Conversation drives the trade-entry state machine. All methods for a
// given user run on that user's serialized worker, so a session never
// sees two steps at once.
type Conversation struct {
	logger   *zap.Logger
	api      Messenger
	creator  TradeCreator
	sessions *SessionRegistry
}

// NewConversation wires the trade-entry state machine.
func NewConversation(logger *zap.Logger, api Messenger, creator TradeCreator, sessions *SessionRegistry) *Conversation {
	return &Conversation{
		logger:   logger,
		api:      api,
		creator:  creator,
		sessions: sessions,
	}
}

// Start begins a fresh conversation for the user, discarding any draft
// left over from an earlier one.
func (c *Conversation) Start(ctx context.Context, user telegram.User, chatID int64) {
	c.sessions.Start(user.ID, chatID, user.Username, user.FirstName)
	c.send(ctx, chatID, promptPair, nil)
}

// Cancel aborts the conversation from any state without persisting.
func (c *Conversation) Cancel(ctx context.Context, s *Session) {
	c.sessions.End(s.UserID)
	c.send(ctx, s.ChatID, msgLogCancelled, nil)
}

// HandleMessage advances the state machine with one text input.
func (c *Conversation) HandleMessage(ctx context.Context, s *Session, text string) {
	text = strings.TrimSpace(text)

	switch s.State {
	case StatePair:
		s.Draft.Pair = strings.ToUpper(text)
		s.State = StateDirection
		c.send(ctx, s.ChatID, promptDirection, telegram.ButtonRow(
			telegram.InlineKeyboardButton{Text: "LONG", CallbackData: choiceLong},
			telegram.InlineKeyboardButton{Text: "SHORT", CallbackData: choiceShort},
		))
	case StateEntry:
		c.handleNumeric(ctx, s, text, promptEntryInvalid, promptExit, StateExit,
			func(d *Draft, v *float64) { d.Entry = v })
	case StateExit:
		c.handleNumeric(ctx, s, text, promptExitInvalid, promptStop, StateStop,
			func(d *Draft, v *float64) { d.Exit = v })
	case StateStop:
		c.handleNumeric(ctx, s, text, promptStopInvalid, promptSize, StateSize,
			func(d *Draft, v *float64) { d.StopLoss = v })
	case StateSize:
		c.handleNumeric(ctx, s, text, promptSizeInvalid, promptNotes, StateNotes,
			func(d *Draft, v *float64) { d.Size = v })
	case StateNotes:
		if !strings.EqualFold(text, "skip") {
			notes := text
			s.Draft.Notes = &notes
		}
		s.State = StateConfirm
		c.sendConfirm(ctx, s)
	default:
		// Direction and Confirm wait for a button press. Stray text is
		// ignored so the pending choice stays valid.
	}
}

// HandleCallback advances the state machine with one button press.
func (c *Conversation) HandleCallback(ctx context.Context, s *Session, cb *telegram.CallbackQuery) {
	switch s.State {
	case StateDirection:
		if cb.Data != choiceLong && cb.Data != choiceShort {
			return
		}
		s.Draft.Direction = cb.Data
		s.State = StateEntry
		c.editOrSend(ctx, s, cb, fmt.Sprintf("Direction: %s\n%s", cb.Data, promptEntry))
	case StateConfirm:
		switch cb.Data {
		case choiceSave:
			c.save(ctx, s, cb)
		case choiceCancel:
			c.sessions.End(s.UserID)
			c.editOrSend(ctx, s, cb, msgCancelled)
		default:
			c.sendConfirm(ctx, s)
		}
	}
}

// handleNumeric applies the parse-or-skip contract shared by the
// entry, exit, stop and size steps. Invalid input re-prompts without
// advancing, so the user can retry until the session times out.
func (c *Conversation) handleNumeric(ctx context.Context, s *Session, text, invalidPrompt, nextPrompt string, next State, set func(*Draft, *float64)) {
	if strings.EqualFold(text, "skip") {
		set(&s.Draft, nil)
	} else {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			c.send(ctx, s.ChatID, invalidPrompt, nil)
			return
		}
		set(&s.Draft, &v)
	}
	s.State = next
	c.send(ctx, s.ChatID, nextPrompt, nil)
}

// sendConfirm renders the draft summary with the Save/Cancel gate.
func (c *Conversation) sendConfirm(ctx context.Context, s *Session) {
	summary := fmt.Sprintf(
		"User: %s\nPair: %s\nDirection: %s\nEntry: %s\nExit: %s\nStop: %s\nSize: %s\nNotes: %s\n\nConfirm save?",
		s.FirstName,
		s.Draft.Pair,
		s.Draft.Direction,
		optFloat(s.Draft.Entry),
		optFloat(s.Draft.Exit),
		optFloat(s.Draft.StopLoss),
		optFloat(s.Draft.Size),
		optString(s.Draft.Notes),
	)
	c.send(ctx, s.ChatID, summary, telegram.ButtonRow(
		telegram.InlineKeyboardButton{Text: "Save", CallbackData: choiceSave},
		telegram.InlineKeyboardButton{Text: "Cancel", CallbackData: choiceCancel},
	))
}

// save commits the draft. Closed is derived from the presence of an
// exit value at commit time. On a store failure the session survives in
// Confirm so the user can press Save again.
func (c *Conversation) save(ctx context.Context, s *Session, cb *telegram.CallbackQuery) {
	trade := &models.Trade{
		UserID:    s.UserID,
		Pair:      s.Draft.Pair,
		Direction: s.Draft.Direction,
		Entry:     s.Draft.Entry,
		Exit:      s.Draft.Exit,
		StopLoss:  s.Draft.StopLoss,
		Size:      s.Draft.Size,
		Notes:     s.Draft.Notes,
		Closed:    s.Draft.Exit != nil,
	}
	if s.Username != "" {
		trade.Username = &s.Username
	}

	id, err := c.creator.Create(ctx, trade)
	if err != nil {
		c.logger.Error("Failed to save trade",
			zap.Int64("user_id", s.UserID),
			zap.Error(err),
		)
		c.editOrSend(ctx, s, cb, fmt.Sprintf("Failed to save trade: %v", err))
		c.sendConfirm(ctx, s)
		return
	}

	c.sessions.End(s.UserID)
	c.editOrSend(ctx, s, cb, fmt.Sprintf("Trade saved ✅ (id: %d)", id))
	c.logger.Info("Trade saved",
		zap.Int64("user_id", s.UserID),
		zap.Uint("trade_id", id),
		zap.String("pair", trade.Pair),
	)
}

func (c *Conversation) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if _, err := c.api.SendMessage(ctx, chatID, text, markup); err != nil {
		c.logger.Warn("Failed to deliver prompt", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// editOrSend rewrites the message the pressed button was attached to,
// falling back to a plain send when the original message is unknown.
func (c *Conversation) editOrSend(ctx context.Context, s *Session, cb *telegram.CallbackQuery, text string) {
	if cb != nil && cb.Message != nil {
		if err := c.api.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.MessageID, text); err == nil {
			return
		}
	}
	c.send(ctx, s.ChatID, text, nil)
}

func optFloat(v *float64) string {
	if v == nil {
		return "none"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optString(v *string) string {
	if v == nil {
		return "none"
	}
	return *v
}

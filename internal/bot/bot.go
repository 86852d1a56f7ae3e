package bot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trading-journal-bot/internal/export"
	"trading-journal-bot/internal/models"
	"trading-journal-bot/internal/stats"
	"trading-journal-bot/internal/telegram"

	"go.uber.org/zap"
)

const (
	startMessage = "Trading Journal Bot online. Use /log to log a trade, /list to list recent trades, /export to get CSV, /stats for quick metrics."

	recentLimit   = 10
	pollTimeout   = 30 // seconds, server-side long-poll window
	workerBuffer  = 16
	workerIdleTTL = 2 * time.Minute
)

// TradeRepository is the store surface the bot depends on.
type TradeRepository interface {
	Create(ctx context.Context, trade *models.Trade) (uint, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]models.Trade, error)
	ListAll(ctx context.Context, userID int64) ([]models.Trade, error)
}

// Bot polls for updates and dispatches them to per-user workers, so a
// slow store call for one user never blocks the poll loop or another
// user's conversation, while one user's events stay strictly ordered.
type Bot struct {
	logger   *zap.Logger
	api      telegram.BotAPI
	repo     TradeRepository
	sessions *SessionRegistry
	conv     *Conversation

	mu      sync.Mutex
	workers map[int64]chan telegram.Update
	wg      sync.WaitGroup
}

// New creates the bot engine around the given transport and store.
func New(logger *zap.Logger, api telegram.BotAPI, repo TradeRepository, sessionTimeout time.Duration) *Bot {
	sessions := NewSessionRegistry(sessionTimeout, logger)
	return &Bot{
		logger:   logger,
		api:      api,
		repo:     repo,
		sessions: sessions,
		conv:     NewConversation(logger, api, repo, sessions),
		workers:  make(map[int64]chan telegram.Update),
	}
}

// Run polls for updates until ctx is cancelled, then waits for the
// in-flight workers to drain.
func (b *Bot) Run(ctx context.Context) {
	b.logger.Info("Starting update loop")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.sessions.RunJanitor(ctx)
	}()

	var offset int64
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping update loop")
			b.wg.Wait()
			return
		default:
		}

		updates, err := b.api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			b.logger.Error("Failed to fetch updates", zap.Error(err))
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			b.dispatch(ctx, u)
		}
	}
}

// dispatch routes an update to its user's worker, creating the worker
// on first use. Updates without an identifiable user are dropped.
func (b *Bot) dispatch(ctx context.Context, u telegram.Update) {
	uid, ok := updateUser(u)
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.workers[uid]
	if !ok {
		ch = make(chan telegram.Update, workerBuffer)
		b.workers[uid] = ch
		b.wg.Add(1)
		go b.runWorker(ctx, uid, ch)
	}

	select {
	case ch <- u:
	default:
		b.logger.Warn("Dropping update, user queue full", zap.Int64("user_id", uid))
	}
}

// runWorker processes one user's updates in arrival order. It retires
// after sitting idle, re-checking its queue under the lock so no update
// accepted by dispatch is lost.
func (b *Bot) runWorker(ctx context.Context, uid int64, ch chan telegram.Update) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			delete(b.workers, uid)
			b.mu.Unlock()
			return
		case u := <-ch:
			b.handleUpdate(ctx, u)
		case <-time.After(workerIdleTTL):
			b.mu.Lock()
			if len(ch) == 0 {
				delete(b.workers, uid)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
		}
	}
}

func updateUser(u telegram.Update) (int64, bool) {
	switch {
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From.ID, true
	case u.Message != nil && u.Message.From != nil:
		return u.Message.From.ID, true
	default:
		return 0, false
	}
}

func (b *Bot) handleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := b.api.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
	s, ok := b.sessions.Get(cb.From.ID)
	if !ok {
		return // button from a finished or timed-out conversation
	}
	b.conv.HandleCallback(ctx, s, cb)
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	user := msg.From
	if user == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		// Photos, stickers and other non-text messages arrive with no
		// text. They are not input to any step of the conversation.
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, *user, msg.Chat.ID, text)
		return
	}

	if s, ok := b.sessions.Get(user.ID); ok {
		b.conv.HandleMessage(ctx, s, text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, user telegram.User, chatID int64, text string) {
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Commands in group chats arrive as /cmd@BotName.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "/start":
		b.reply(ctx, chatID, startMessage)
	case "/log":
		b.conv.Start(ctx, user, chatID)
	case "/cancel":
		if s, ok := b.sessions.Get(user.ID); ok {
			b.conv.Cancel(ctx, s)
		}
	case "/list":
		b.handleList(ctx, user.ID, chatID)
	case "/stats":
		b.handleStats(ctx, user.ID, chatID)
	case "/export":
		b.handleExport(ctx, user.ID, chatID)
	}
}

func (b *Bot) handleList(ctx context.Context, userID, chatID int64) {
	trades, err := b.repo.ListRecent(ctx, userID, recentLimit)
	if err != nil {
		b.logger.Error("Failed to list trades", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(ctx, chatID, "Failed to list trades.")
		return
	}
	if len(trades) == 0 {
		b.reply(ctx, chatID, "No recent trades found.")
		return
	}

	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		lines = append(lines, fmt.Sprintf("#%d %s %s entry:%s exit:%s pnl:%s closed:%t",
			t.ID, t.Pair, t.Direction, optFloat(t.Entry), optFloat(t.Exit), optFloat(t.Pnl), t.Closed))
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleStats(ctx context.Context, userID, chatID int64) {
	s, err := stats.Compute(ctx, b.repo, userID)
	if err != nil {
		b.logger.Error("Failed to compute stats", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(ctx, chatID, "Failed to compute stats.")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Total trades: %d\nWins: %d\nLosses: %d\nAvg pnl: %.2f",
		s.Total, s.Wins, s.Losses, s.AvgPnl))
}

func (b *Bot) handleExport(ctx context.Context, userID, chatID int64) {
	var buf bytes.Buffer
	if err := export.WriteCSV(ctx, b.repo, userID, &buf); err != nil {
		b.logger.Error("Failed to export trades", zap.Int64("user_id", userID), zap.Error(err))
		b.reply(ctx, chatID, "Failed to export.")
		return
	}

	filename := fmt.Sprintf("trades_%d.csv", userID)
	if err := b.api.SendDocument(ctx, chatID, filename, &buf); err != nil {
		b.reply(ctx, chatID, "Failed to export.")
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, chatID, text, nil); err != nil {
		b.logger.Warn("Failed to deliver reply", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

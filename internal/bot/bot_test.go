package bot

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"trading-journal-bot/internal/models"
	"trading-journal-bot/internal/store"
	"trading-journal-bot/internal/telegram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type sentMessage struct {
	chatID int64
	text   string
	markup *telegram.InlineKeyboardMarkup
}

type sentDocument struct {
	chatID   int64
	filename string
	content  string
}

// fakeAPI is an in-memory stand-in for the Telegram client. Chats listed
// in failChats reject every delivery.
type fakeAPI struct {
	mu        sync.Mutex
	sent      []sentMessage
	edits     []sentMessage
	docs      []sentDocument
	answered  []string
	failChats map[int64]error
}

var _ telegram.BotAPI = (*fakeAPI)(nil)

func (f *fakeAPI) GetMe(ctx context.Context) (*telegram.User, error) {
	return &telegram.User{ID: 1, IsBot: true, Username: "journal_bot"}, nil
}

func (f *fakeAPI) GetUpdates(ctx context.Context, offset int64, timeout int) ([]telegram.Update, error) {
	return nil, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failChats[chatID]; ok {
		return nil, err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return &telegram.Message{MessageID: int64(len(f.sent)), Chat: telegram.Chat{ID: chatID}, Text: text}, nil
}

func (f *fakeAPI) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failChats[chatID]; ok {
		return err
	}
	f.edits = append(f.edits, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeAPI) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeAPI) SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failChats[chatID]; ok {
		return err
	}
	data, _ := io.ReadAll(content)
	f.docs = append(f.docs, sentDocument{chatID: chatID, filename: filename, content: string(data)})
	return nil
}

func (f *fakeAPI) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAPI) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, m := range f.sent {
		if m.chatID == chatID {
			texts = append(texts, m.text)
		}
	}
	return texts
}

// setupBot creates a bot over a fresh in-memory database and fake transport.
func setupBot(t *testing.T) (*Bot, *fakeAPI, *store.TradeStore) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Trade{}))

	api := &fakeAPI{}
	tradeStore := store.NewTradeStore(db)
	b := New(zap.NewNop(), api, tradeStore, DefaultSessionTimeout)
	return b, api, tradeStore
}

func ptr[T any](v T) *T { return &v }

func textUpdate(userID int64, text string) telegram.Update {
	return telegram.Update{
		Message: &telegram.Message{
			From: &telegram.User{ID: userID, FirstName: "Ana", Username: "ana"},
			Chat: telegram.Chat{ID: userID},
			Text: text,
		},
	}
}

func callbackUpdate(userID int64, data string) telegram.Update {
	return telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:   fmt.Sprintf("cb-%s", data),
			From: telegram.User{ID: userID, FirstName: "Ana", Username: "ana"},
			Message: &telegram.Message{
				MessageID: 1,
				Chat:      telegram.Chat{ID: userID},
			},
			Data: data,
		},
	}
}

func TestStartCommand(t *testing.T) {
	b, api, _ := setupBot(t)
	b.handleUpdate(context.Background(), textUpdate(42, "/start"))
	assert.Contains(t, api.lastSent().text, "Use /log to log a trade")
}

func TestListCommand(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		b, api, _ := setupBot(t)
		b.handleUpdate(context.Background(), textUpdate(42, "/list"))
		assert.Equal(t, "No recent trades found.", api.lastSent().text)
	})

	t.Run("RendersOneLinePerTrade", func(t *testing.T) {
		b, api, tradeStore := setupBot(t)
		ctx := context.Background()

		_, err := tradeStore.Create(ctx, &models.Trade{
			UserID:    42,
			Pair:      "BTCUSD",
			Direction: models.DirectionLong,
			Entry:     ptr(50000.0),
			Pnl:       ptr(12.5),
		})
		require.NoError(t, err)

		b.handleUpdate(ctx, textUpdate(42, "/list"))
		assert.Equal(t, "#1 BTCUSD LONG entry:50000 exit:none pnl:12.5 closed:false", api.lastSent().text)
	})

	t.Run("LimitsToTenNewestFirst", func(t *testing.T) {
		b, api, tradeStore := setupBot(t)
		ctx := context.Background()

		base := time.Now().Add(-time.Hour)
		for i := 0; i < 12; i++ {
			_, err := tradeStore.Create(ctx, &models.Trade{
				UserID:    42,
				Pair:      fmt.Sprintf("P%d", i),
				Direction: models.DirectionLong,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
		}

		b.handleUpdate(ctx, textUpdate(42, "/list"))
		lines := strings.Split(api.lastSent().text, "\n")
		require.Len(t, lines, 10)
		assert.Contains(t, lines[0], "P11")
		assert.Contains(t, lines[9], "P2")
	})
}

func TestStatsCommand(t *testing.T) {
	b, api, tradeStore := setupBot(t)
	ctx := context.Background()

	for _, pnl := range []*float64{ptr(10.0), ptr(-5.0), ptr(0.0), nil} {
		_, err := tradeStore.Create(ctx, &models.Trade{UserID: 42, Pair: "X", Direction: models.DirectionLong, Pnl: pnl})
		require.NoError(t, err)
	}

	b.handleUpdate(ctx, textUpdate(42, "/stats"))
	assert.Equal(t, "Total trades: 4\nWins: 1\nLosses: 2\nAvg pnl: 1.67", api.lastSent().text)
}

func TestExportCommand(t *testing.T) {
	t.Run("EmptyHistoryStillExports", func(t *testing.T) {
		b, api, _ := setupBot(t)
		b.handleUpdate(context.Background(), textUpdate(42, "/export"))

		require.Len(t, api.docs, 1)
		assert.Equal(t, "trades_42.csv", api.docs[0].filename)
		assert.Equal(t, "id,pair,direction,entry,exit,stop_loss,size,pnl,notes,created_at\n", api.docs[0].content)
	})

	t.Run("DeliveryFailureReportsPlainNotice", func(t *testing.T) {
		b, api, _ := setupBot(t)
		api.failChats = map[int64]error{42: fmt.Errorf("blocked by user")}
		b.handleUpdate(context.Background(), textUpdate(42, "/export"))
		assert.Empty(t, api.docs)
		// The failure notice itself also fails for this chat, which must
		// not panic or affect anything else.
	})
}

func TestCommandWithBotSuffix(t *testing.T) {
	b, api, _ := setupBot(t)
	b.handleUpdate(context.Background(), textUpdate(42, "/start@journal_bot"))
	assert.Contains(t, api.lastSent().text, "Trading Journal Bot online")
}

func TestCallbackWithoutSessionIsIgnored(t *testing.T) {
	b, api, tradeStore := setupBot(t)
	ctx := context.Background()

	b.handleUpdate(ctx, callbackUpdate(42, "SAVE"))

	trades, err := tradeStore.ListRecent(ctx, 42, 10)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, []string{"cb-SAVE"}, api.answered)
}

func TestNonCommandTextWithoutSessionIsIgnored(t *testing.T) {
	b, api, _ := setupBot(t)
	b.handleUpdate(context.Background(), textUpdate(42, "hello there"))
	assert.Empty(t, api.sent)
}

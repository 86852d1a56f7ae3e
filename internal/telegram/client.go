package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	baseURLFormat = "https://api.telegram.org/bot%s"

	// Telegram allows roughly 30 messages per second per bot.
	sendRateLimit = 30
	sendRateBurst = 5
)

// BotAPI defines the interface for the Telegram Bot API client.
type BotAPI interface {
	GetMe(ctx context.Context) (*User, error)
	GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
	SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader) error
}

// Client is a client for the Telegram Bot API.
// It implements the BotAPI interface.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration // base delay of the retry backoff
}

// ensure Client implements the interface
var _ BotAPI = (*Client)(nil)

// NewClient creates a new Telegram Bot API client for the given token.
func NewClient(token string, logger *zap.Logger) *Client {
	client := resty.New().SetBaseURL(fmt.Sprintf(baseURLFormat, token))

	return &Client{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendRateBurst),
		backoff: time.Second,
	}
}

// doRequest executes one Bot API call with rate limiting and retry on
// throttling or server errors, then unwraps the response envelope into out.
func (c *Client) doRequest(ctx context.Context, method string, req *resty.Request, out interface{}) error {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Calling Bot API method", zap.String("method", method))
		resp, err = req.SetContext(ctx).Post("/" + method)

		var envelope apiResponse
		if err == nil {
			if uerr := json.Unmarshal(resp.Body(), &envelope); uerr == nil && envelope.Ok {
				if out != nil && envelope.Result != nil {
					if uerr := json.Unmarshal(envelope.Result, out); uerr != nil {
						return fmt.Errorf("failed to decode %s result: %w", method, uerr)
					}
				}
				return nil
			}
		}

		// Analyze the failure and decide whether to retry.
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
					retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
				} else if seconds, aerr := strconv.Atoi(resp.Header().Get("Retry-After")); aerr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return fmt.Errorf("bot api %s failed: %s", method, envelope.Description)
		}

		// An HTTP-level failure carries no transport error, so record the
		// server's answer for the post-loop wrap.
		if err == nil {
			err = fmt.Errorf("status %d: %s", resp.StatusCode(), envelope.Description)
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * c.backoff
		}

		c.logger.Warn("Bot API call failed, retrying...",
			zap.String("method", method),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("bot api %s failed after %d attempts: %w", method, maxRetries, err)
}

// GetMe fetches the bot's own account. A good call to test the token.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	req := c.client.R()
	if err := c.doRequest(ctx, "getMe", req, &me); err != nil {
		return nil, fmt.Errorf("failed to get bot identity: %w", err)
	}
	return &me, nil
}

// GetUpdates long-polls for new updates past the given offset. The
// timeout is the server-side long-poll window in seconds.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	var updates []Update
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"offset":  offset,
			"timeout": timeout,
		})
	if err := c.doRequest(ctx, "getUpdates", req, &updates); err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends text to a chat, optionally with an inline keyboard.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (*Message, error) {
	body := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if markup != nil {
		body["reply_markup"] = markup
	}

	var msg Message
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if err := c.doRequest(ctx, "sendMessage", req, &msg); err != nil {
		c.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return &msg, nil
}

// EditMessageText replaces the text of a previously sent message,
// dropping any inline keyboard it carried.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{
			"chat_id":    chatID,
			"message_id": messageID,
			"text":       text,
		})
	if err := c.doRequest(ctx, "editMessageText", req, nil); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// AnswerCallbackQuery acknowledges an inline button press so the client
// stops showing its progress indicator.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	req := c.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"callback_query_id": callbackID})
	if err := c.doRequest(ctx, "answerCallbackQuery", req, nil); err != nil {
		return fmt.Errorf("failed to answer callback query: %w", err)
	}
	return nil
}

// SendDocument uploads content as a file attachment to the chat.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader) error {
	req := c.client.R().
		SetFormData(map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}).
		SetFileReader("document", filename, content)
	if err := c.doRequest(ctx, "sendDocument", req, nil); err != nil {
		c.logger.Error("Failed to send document",
			zap.Int64("chat_id", chatID),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send document: %w", err)
	}
	return nil
}

package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nano-banana-studio/internal/imagedecode"
)

const (
	maxTextBytes    = 4096
	maxCaptionBytes = 1024
	maxAlbumSize    = 10
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
}

type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		bot:        bot,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type (
	Update        = tgbotapi.Update
	Message       = tgbotapi.Message
	CallbackQuery = tgbotapi.CallbackQuery
	Keyboard      = tgbotapi.InlineKeyboardMarkup
	Button        = tgbotapi.InlineKeyboardButton
)

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	_, _ = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
}

func (c *Client) SendUploading(chatID int64) {
	_, _ = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto))
}

func (c *Client) SendText(chatID int64, text string) error {
	parts := splitByBytes(text, maxTextBytes)
	for _, p := range parts {
		msg := tgbotapi.NewMessage(chatID, p)
		if _, err := c.bot.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// SendTextWithKeyboard sends one message carrying kb and returns its id.
func (c *Client) SendTextWithKeyboard(chatID int64, text string, kb Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncateByBytes(text, maxTextBytes))
	msg.ReplyMarkup = kb
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) EditTextWithKeyboard(chatID int64, messageID int, text string, kb Keyboard) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, truncateByBytes(text, maxTextBytes), kb)
	_, err := c.bot.Request(edit)
	return err
}

func (c *Client) AnswerCallback(callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	cfg.ShowAlert = alert
	_, err := c.bot.Request(cfg)
	return err
}

func (c *Client) DeleteMessage(chatID int64, messageID int) error {
	_, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

func (c *Client) SendPhotoBytes(chatID int64, name string, data []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	if caption != "" {
		photo.Caption = truncateByBytes(caption, maxCaptionBytes)
	}
	_, err := c.bot.Send(photo)
	return err
}

func (c *Client) SendPhotoDataURI(chatID int64, dataURI string, caption string) error {
	mimeType, data, err := imagedecode.ParseDataURI(dataURI)
	if err != nil {
		return err
	}
	return c.SendPhotoBytes(chatID, fileName("image", mimeType), data, caption)
}

// Photo is one album entry.
type Photo struct {
	DataURI string
	Caption string
}

// SendAlbum sends photos as media groups of at most ten.
func (c *Client) SendAlbum(chatID int64, photos []Photo) error {
	for start := 0; start < len(photos); start += maxAlbumSize {
		end := min(start+maxAlbumSize, len(photos))

		media := make([]any, 0, end-start)
		for i, p := range photos[start:end] {
			mimeType, data, err := imagedecode.ParseDataURI(p.DataURI)
			if err != nil {
				return fmt.Errorf("album photo %d: %w", start+i+1, err)
			}
			item := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{
				Name:  fileName(fmt.Sprintf("ref%d", start+i+1), mimeType),
				Bytes: data,
			})
			item.Caption = truncateByBytes(p.Caption, maxCaptionBytes)
			media = append(media, item)
		}

		if len(media) == 1 {
			p := photos[start]
			if err := c.SendPhotoDataURI(chatID, p.DataURI, p.Caption); err != nil {
				return err
			}
			continue
		}
		if _, err := c.bot.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
			return err
		}
	}
	return nil
}

// DownloadFile fetches a file the user sent.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("telegram file downloaded", "file_id", fileID, "bytes", len(data))
	return data, nil
}

func fileName(base, mimeType string) string {
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return base + exts[0]
	}
	return base + ".jpg"
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}

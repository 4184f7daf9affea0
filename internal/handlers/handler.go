package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/mediagroup"
	"nano-banana-studio/internal/reference"
	"nano-banana-studio/internal/session"
	"nano-banana-studio/internal/studio"
	"nano-banana-studio/internal/telegram"
)

type Options struct {
	Telegram *telegram.Client
	Sessions *session.Store
	Logger   *slog.Logger
	// MaxDownloads bounds concurrent file downloads of one album.
	MaxDownloads int
}

type Handler struct {
	tg           *telegram.Client
	sessions     *session.Store
	logger       *slog.Logger
	aggregator   *mediagroup.Aggregator
	maxDownloads int
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDownloads := opts.MaxDownloads
	if maxDownloads < 1 {
		maxDownloads = 4
	}

	return &Handler{
		tg:           opts.Telegram,
		sessions:     opts.Sessions,
		logger:       logger,
		maxDownloads: maxDownloads,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if !msg.Chat.IsPrivate() {
		if msg.IsCommand() {
			return h.tg.SendText(chatID, "The studio works in a private chat only.")
		}
		return nil
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, msg)
	}

	if file, ok := imageFile(msg); ok {
		return h.handleImage(ctx, chatID, userID, msg, file)
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		return h.setField(ctx, chatID, userID, studio.FieldPrompt, text)
	}
	return nil
}

// HandleMediaGroup adds an album as one dropped batch.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	sess := h.sessions.Get(group.UserID)

	uploads, err := h.download(ctx, group.Files)
	if err != nil {
		h.logger.Error("album download failed", "chat_id", group.ChatID, "err", err)
		_ = h.tg.SendText(group.ChatID, "❌ Could not download the album.")
		return
	}

	if err := sess.Dispatch(ctx, studio.DropFiles{Files: uploads}); err != nil {
		h.reportError(group.ChatID, err)
		return
	}
	if caption := strings.TrimSpace(group.Caption); caption != "" {
		if err := sess.Dispatch(ctx, studio.SetForm{Field: studio.FieldPrompt, Value: caption}); err != nil {
			h.reportError(group.ChatID, err)
		}
	}
	sess.WaitDecodes()
	_ = h.sendPanel(group.ChatID, group.UserID, sess.State())
}

// imageFile picks the largest photo size, or an image document. Documents
// with other types are passed on too; the session rejects them.
func imageFile(msg *tgbotapi.Message) (mediagroup.File, bool) {
	if n := len(msg.Photo); n > 0 {
		return mediagroup.File{ID: msg.Photo[n-1].FileID}, true
	}
	if msg.Document != nil {
		return mediagroup.File{ID: msg.Document.FileID, Name: msg.Document.FileName}, true
	}
	return mediagroup.File{}, false
}

func (h *Handler) handleImage(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message, file mediagroup.File) error {
	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			UserID:       userID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			File:         file,
		})
		return nil
	}

	uploads, err := h.download(ctx, []mediagroup.File{file})
	if err != nil {
		h.logger.Error("image download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the image.")
	}

	// A photo behaves like a pasted image; a document like a picked file.
	var ev studio.Event = studio.PasteImage{File: uploads[0]}
	if msg.Document != nil {
		ev = studio.AddFiles{Files: uploads}
	}

	sess := h.sessions.Get(userID)
	if err := sess.Dispatch(ctx, ev); err != nil {
		h.reportError(chatID, err)
		return nil
	}
	if caption := strings.TrimSpace(msg.Caption); caption != "" {
		if err := sess.Dispatch(ctx, studio.SetForm{Field: studio.FieldPrompt, Value: caption}); err != nil {
			h.reportError(chatID, err)
		}
	}
	sess.WaitDecodes()
	return h.sendPanel(chatID, userID, sess.State())
}

func (h *Handler) download(ctx context.Context, files []mediagroup.File) ([]reference.Upload, error) {
	uploads := make([]reference.Upload, len(files))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(h.maxDownloads)
	for i, f := range files {
		eg.Go(func() error {
			data, err := h.tg.DownloadFile(egCtx, f.ID)
			if err != nil {
				return err
			}
			uploads[i] = reference.Upload{Name: f.Name, Data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return uploads, nil
}

func (h *Handler) setField(ctx context.Context, chatID, userID int64, field studio.Field, value string) error {
	sess := h.sessions.Get(userID)
	if err := sess.Dispatch(ctx, studio.SetForm{Field: field, Value: value}); err != nil {
		h.reportError(chatID, err)
		return nil
	}
	return h.tg.SendText(chatID, "✅ "+fieldTitle(field)+" updated.")
}

// reportError replies to failures the session does not announce itself.
func (h *Handler) reportError(chatID int64, err error) {
	if text, ok := errorReply(err); ok {
		_ = h.tg.SendText(chatID, text)
		return
	}
	h.logger.Debug("studio action failed", "chat_id", chatID, "err", err)
}

func errorReply(err error) (string, bool) {
	var verr *generation.ValidationError
	switch {
	case errors.As(err, &verr):
		return "❌ Check " + verr.Field + ": " + verr.Reason, true
	case errors.Is(err, studio.ErrInvalidChoice):
		return "❌ Unknown aspect ratio. Use /ratio to pick one.", true
	case errors.Is(err, reference.ErrInvalidIndex), errors.Is(err, reference.ErrNotFound):
		return "❌ No such reference position. See /refs.", true
	case errors.Is(err, studio.ErrUnknownEvent):
		return "❌ Unsupported action.", true
	}
	// Capacity, empty input, auth and API failures already produced a notice.
	return "", false
}

func fieldTitle(field studio.Field) string {
	switch field {
	case studio.FieldPrompt:
		return "Prompt"
	case studio.FieldNegativePrompt:
		return "Negative prompt"
	case studio.FieldResolution:
		return "Resolution"
	case studio.FieldSteps:
		return "Steps"
	case studio.FieldGuidance:
		return "Guidance"
	case studio.FieldSeed:
		return "Seed"
	}
	return string(field)
}

// ratioChoice resolves a /ratio argument against the current options.
func ratioChoice(arg string) (aspect.Choice, error) {
	c, err := aspect.ParseChoice(arg)
	if err != nil {
		return "", studio.ErrInvalidChoice
	}
	return c, nil
}

func userLine(u *api.User) string {
	if u == nil {
		return "logged in"
	}
	if u.Email != "" {
		return u.Username + " <" + u.Email + ">"
	}
	return u.Username
}

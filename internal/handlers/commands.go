package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/reference"
	"nano-banana-studio/internal/studio"
	"nano-banana-studio/internal/telegram"
)

const helpText = "🍌 Nano Banana Studio\n\n" +
	"Account:\n" +
	"/login <username or email> <password>\n" +
	"/register <username> <email> <password>\n" +
	"/logout, /me\n" +
	"/key <api key> - save the image-to-image key (/key delete removes it)\n\n" +
	"Request:\n" +
	"/prompt <text> (or just send text)\n" +
	"/negative <text>, /resolution 1K|2K|4K\n" +
	"/steps <n>, /guidance <x>, /seed <n|random>\n" +
	"/mode t2i|i2i, /ratio [16:9|ref1..ref4]\n\n" +
	"References (image-to-image, up to 4):\n" +
	"send photos, files or an album\n" +
	"/refs, /move <from> <to>, /remove <n>, /clear\n\n" +
	"Gallery:\n" +
	"/generate, /gallery, /status\n" +
	"/info <id>, /edit <id>, /delete <id>"

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	sess := h.sessions.Get(userID)

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)

	case "login":
		h.forget(chatID, msg.MessageID)
		fields := strings.Fields(args)
		if len(fields) != 2 {
			return h.tg.SendText(chatID, "Usage: /login <username or email> <password>")
		}
		h.tg.SendTyping(chatID)
		if _, err := sess.Login(ctx, fields[0], fields[1]); err != nil {
			return nil
		}
		return h.sendPanel(chatID, userID, sess.State())

	case "register":
		h.forget(chatID, msg.MessageID)
		fields := strings.Fields(args)
		if len(fields) != 3 {
			return h.tg.SendText(chatID, "Usage: /register <username> <email> <password>")
		}
		h.tg.SendTyping(chatID)
		if _, err := sess.Register(ctx, fields[0], fields[1], fields[2]); err != nil {
			return nil
		}
		return h.sendPanel(chatID, userID, sess.State())

	case "logout":
		sess.Logout()
		return nil

	case "me":
		u, err := sess.Me(ctx)
		if err != nil {
			return nil
		}
		return h.tg.SendText(chatID, "👤 "+userLine(&u))

	case "key":
		if args == "" {
			if sess.State().HasAPIKey {
				return h.tg.SendText(chatID, "🔑 An API key is saved. /key delete removes it.")
			}
			return h.tg.SendText(chatID, "Usage: /key <api key>")
		}
		h.forget(chatID, msg.MessageID)
		var err error
		if strings.EqualFold(args, "delete") {
			err = sess.DeleteAPIKey()
		} else {
			err = sess.SaveAPIKey(args)
		}
		if err != nil {
			h.logger.Error("api key update failed", "user_id", userID, "err", err)
		}
		return nil

	case "mode":
		mode, err := generation.ParseMode(args)
		if err != nil {
			return h.tg.SendText(chatID, "Usage: /mode t2i|i2i")
		}
		if err := sess.Dispatch(ctx, studio.SwitchMode{Mode: mode}); err != nil {
			h.reportError(chatID, err)
			return nil
		}
		return h.sendPanel(chatID, userID, sess.State())

	case "ratio":
		if args == "" {
			st := sess.State()
			_, err := h.tg.SendTextWithKeyboard(chatID, ratioText(st), ratioKeyboard(userID, st))
			return err
		}
		choice, err := ratioChoice(args)
		if err == nil {
			err = sess.Dispatch(ctx, studio.SelectRatio{Choice: choice})
		}
		if err != nil {
			h.reportError(chatID, err)
			return nil
		}
		return h.tg.SendText(chatID, ratioText(sess.State()))

	case "refs":
		return h.sendReferences(chatID, userID, sess.State())

	case "move":
		from, to, ok := parsePositions(args)
		if !ok {
			return h.tg.SendText(chatID, "Usage: /move <from> <to>")
		}
		id, ok := referenceID(sess.State(), from)
		if !ok {
			h.reportError(chatID, reference.ErrNotFound)
			return nil
		}
		if err := sess.Dispatch(ctx, studio.Reorder{ID: id, Target: to - 1}); err != nil {
			h.reportError(chatID, err)
			return nil
		}
		return h.sendPanel(chatID, userID, sess.State())

	case "remove":
		n, err := strconv.Atoi(args)
		if err != nil {
			return h.tg.SendText(chatID, "Usage: /remove <n>")
		}
		id, ok := referenceID(sess.State(), n)
		if !ok {
			h.reportError(chatID, reference.ErrNotFound)
			return nil
		}
		_ = sess.Dispatch(ctx, studio.RemoveReference{ID: id})
		return h.sendPanel(chatID, userID, sess.State())

	case "clear":
		if h.aggregator != nil {
			h.aggregator.Discard(chatID)
		}
		_ = sess.Dispatch(ctx, studio.ClearReferences{})
		return h.sendPanel(chatID, userID, sess.State())

	case "prompt":
		return h.setField(ctx, chatID, userID, studio.FieldPrompt, args)
	case "negative":
		return h.setField(ctx, chatID, userID, studio.FieldNegativePrompt, args)
	case "resolution":
		return h.setField(ctx, chatID, userID, studio.FieldResolution, args)
	case "steps":
		return h.setField(ctx, chatID, userID, studio.FieldSteps, args)
	case "guidance":
		return h.setField(ctx, chatID, userID, studio.FieldGuidance, args)
	case "seed":
		return h.setField(ctx, chatID, userID, studio.FieldSeed, args)

	case "generate":
		h.tg.SendTyping(chatID)
		_, _ = sess.Submit(ctx)
		return nil

	case "status":
		return h.sendPanel(chatID, userID, sess.State())

	case "gallery":
		h.tg.SendTyping(chatID)
		_, _ = sess.RefreshGallery(ctx, true)
		return nil

	case "info":
		id, ok := parseID(args)
		if !ok {
			return h.tg.SendText(chatID, "Usage: /info <id>")
		}
		rec, err := sess.Info(ctx, id)
		if err != nil {
			return nil
		}
		return h.tg.SendText(chatID, recordText(rec))

	case "edit":
		id, ok := parseID(args)
		if !ok {
			return h.tg.SendText(chatID, "Usage: /edit <id>")
		}
		h.tg.SendTyping(chatID)
		if _, err := sess.Edit(ctx, id); err != nil {
			return nil
		}
		return h.sendPanel(chatID, userID, sess.State())

	case "delete":
		id, ok := parseID(args)
		if !ok {
			return h.tg.SendText(chatID, "Usage: /delete <id>")
		}
		_ = sess.Delete(ctx, id)
		return nil

	default:
		return h.tg.SendText(chatID, "❌ Unknown command. See /help.")
	}
}

// forget deletes a message that carried a secret.
func (h *Handler) forget(chatID int64, messageID int) {
	if err := h.tg.DeleteMessage(chatID, messageID); err != nil {
		h.logger.Debug("delete secret message failed", "chat_id", chatID, "err", err)
	}
}

func (h *Handler) sendPanel(chatID, userID int64, st studio.State) error {
	_, err := h.tg.SendTextWithKeyboard(chatID, panelText(st), panelKeyboard(userID, st))
	return err
}

func (h *Handler) sendReferences(chatID, userID int64, st studio.State) error {
	if len(st.References) == 0 {
		return h.tg.SendText(chatID, "No references yet. Send up to 4 photos.")
	}

	photos := make([]telegram.Photo, 0, len(st.References))
	for i, img := range st.References {
		photos = append(photos, telegram.Photo{DataURI: img.DataURI, Caption: referenceCaption(i, img)})
	}
	h.tg.SendUploading(chatID)
	if err := h.tg.SendAlbum(chatID, photos); err != nil {
		h.logger.Warn("send references failed", "chat_id", chatID, "err", err)
	}

	_, err := h.tg.SendTextWithKeyboard(chatID, referencesText(st), referencesKeyboard(userID, st))
	return err
}

func parseID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parsePositions reads two 1-based positions.
func parsePositions(args string) (int, int, bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, false
	}
	from, err1 := strconv.Atoi(fields[0])
	to, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return from, to, true
}

// referenceID maps a 1-based position to the reference id.
func referenceID(st studio.State, pos int) (string, bool) {
	if pos < 1 || pos > len(st.References) {
		return "", false
	}
	return st.References[pos-1].ID, true
}

package handlers

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nano-banana-studio/internal/aspect"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/studio"
)

const callbackPrefix = "st"

// Callback data is "st:<owner>:<action>[:<arg>...]" and must fit in 64
// bytes. Ratios travel as their option position, references as refToken.
func cb(ownerID int64, parts ...string) string {
	return callbackPrefix + ":" + strconv.FormatInt(ownerID, 10) + ":" + strings.Join(parts, ":")
}

type callback struct {
	ownerID int64
	action  string
	args    []string
}

func parseCallback(data string) (callback, bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 3 || parts[0] != callbackPrefix {
		return callback{}, false
	}
	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return callback{}, false
	}
	return callback{ownerID: ownerID, action: parts[2], args: parts[3:]}, true
}

func (c callback) arg(i int) string {
	if i >= len(c.args) {
		return ""
	}
	return c.args[i]
}

func (c callback) intArg(i int) (int, bool) {
	n, err := strconv.Atoi(c.arg(i))
	return n, err == nil
}

const refTokenLen = 12

// refToken is the random tail of a reference id. Buttons outlive the state
// they were drawn from, so they address references by id, never by index.
func refToken(id string) string {
	compact := strings.ReplaceAll(id, "-", "")
	if len(compact) <= refTokenLen {
		return compact
	}
	return compact[len(compact)-refTokenLen:]
}

func referenceByToken(st studio.State, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for _, img := range st.References {
		if refToken(img.ID) == token {
			return img.ID, true
		}
	}
	return "", false
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	c, ok := parseCallback(q.Data)
	if !ok {
		return nil
	}
	if c.ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu is not for you.", true)
		return nil
	}

	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	sess := h.sessions.Get(c.ownerID)

	view := "main"
	var err error
	switch c.action {
	case "menu":
		if len(c.args) > 0 {
			view = c.args[0]
		}
	case "mode":
		mode := generation.TextToImage
		if len(c.args) > 0 && c.args[0] == "i2i" {
			mode = generation.ImageToImage
		}
		err = sess.Dispatch(ctx, studio.SwitchMode{Mode: mode})
	case "ratio":
		view = "ratio"
		i, ok := c.intArg(0)
		opts := sess.State().Options
		if !ok || i < 0 || i >= len(opts) || !opts[i].Visible {
			err = studio.ErrInvalidChoice
			break
		}
		err = sess.Dispatch(ctx, studio.SelectRatio{Choice: opts[i].Key})
	case "mv":
		view = "refs"
		id, found := referenceByToken(sess.State(), c.arg(0))
		to, ok := c.intArg(1)
		if !found || !ok {
			break
		}
		err = sess.Dispatch(ctx, studio.Reorder{ID: id, Target: to})
	case "rm":
		view = "refs"
		if id, found := referenceByToken(sess.State(), c.arg(0)); found {
			err = sess.Dispatch(ctx, studio.RemoveReference{ID: id})
		}
	case "clear":
		view = "refs"
		err = sess.Dispatch(ctx, studio.ClearReferences{})
	case "gen":
		_ = h.tg.AnswerCallback(q.ID, "Submitting…", false)
		_, _ = sess.Submit(ctx)
		return nil
	case "gallery":
		_ = h.tg.AnswerCallback(q.ID, "Refreshing…", false)
		_, _ = sess.RefreshGallery(ctx, true)
		return nil
	case "close":
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.tg.DeleteMessage(chatID, msgID)
	}

	answer := ""
	if err != nil {
		if text, ok := errorReply(err); ok {
			answer = strings.TrimPrefix(text, "❌ ")
		}
	}
	_ = h.tg.AnswerCallback(q.ID, answer, false)

	st := sess.State()
	text, kb := panelText(st), panelKeyboard(c.ownerID, st)
	switch view {
	case "ratio":
		text, kb = ratioText(st), ratioKeyboard(c.ownerID, st)
	case "refs":
		text, kb = referencesText(st), referencesKeyboard(c.ownerID, st)
	}
	if err := h.tg.EditTextWithKeyboard(chatID, msgID, text, kb); err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

// isNotModified matches the API error for an edit that changes nothing.
func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func panelKeyboard(ownerID int64, st studio.State) tgbotapi.InlineKeyboardMarkup {
	t2i, i2i := "Text → image", "Image → image"
	if st.Form.Mode == generation.ImageToImage {
		i2i = "✅ " + i2i
	} else {
		t2i = "✅ " + t2i
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData(t2i, cb(ownerID, "mode", "t2i")),
			tgbotapi.NewInlineKeyboardButtonData(i2i, cb(ownerID, "mode", "i2i")),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("Ratio: "+string(st.Ratio), cb(ownerID, "menu", "ratio")),
			tgbotapi.NewInlineKeyboardButtonData("References ("+strconv.Itoa(len(st.References))+")", cb(ownerID, "menu", "refs")),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("🎨 Generate", cb(ownerID, "gen")),
			tgbotapi.NewInlineKeyboardButtonData("🖼 Gallery", cb(ownerID, "gallery")),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("Close", cb(ownerID, "close")),
		},
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// ratioKeyboard lists the standard ratios four per row, then the derived
// choices of the references present.
func ratioKeyboard(ownerID int64, st studio.State) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	flush := func() {
		if len(row) > 0 {
			rows = append(rows, row)
			row = nil
		}
	}

	for i, opt := range st.Options {
		if !opt.Visible {
			continue
		}
		if opt.Key.IsDerived() && len(row) > 0 && !st.Options[i-1].Key.IsDerived() {
			flush()
		}
		label := opt.Label
		if opt.Key.IsDerived() {
			label = shortDerivedLabel(opt)
		}
		if opt.Key == st.Choice {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "ratio", strconv.Itoa(i))))
		if len(row) == 4 {
			flush()
		}
	}
	flush()

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", "main")),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func shortDerivedLabel(opt aspect.Option) string {
	n, _ := opt.Key.Slot()
	label := "Ref " + strconv.Itoa(n)
	if i := strings.Index(opt.Label, "("); i >= 0 {
		label += " " + opt.Label[i:]
	}
	return label
}

// referencesKeyboard has one row per reference: move up, move down, remove.
func referencesKeyboard(ownerID int64, st studio.State) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	n := len(st.References)
	for i, img := range st.References {
		tok := refToken(img.ID)
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(strconv.Itoa(i+1), cb(ownerID, "menu", "refs")),
		}
		if i > 0 {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬆", cb(ownerID, "mv", tok, strconv.Itoa(i-1))))
		}
		if i < n-1 {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬇", cb(ownerID, "mv", tok, strconv.Itoa(i+1))))
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✖", cb(ownerID, "rm", tok)))
		rows = append(rows, row)
	}

	last := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", "main")),
	}
	if n > 0 {
		last = append(last, tgbotapi.NewInlineKeyboardButtonData("Clear all", cb(ownerID, "clear")))
	}
	rows = append(rows, last)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

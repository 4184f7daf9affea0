package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"nano-banana-studio/internal/gallery"
	"nano-banana-studio/internal/generation"
	"nano-banana-studio/internal/imagedecode"
	"nano-banana-studio/internal/ratio"
	"nano-banana-studio/internal/reference"
	"nano-banana-studio/internal/studio"
	"nano-banana-studio/internal/telegram"
)

const (
	promptPreviewRunes = 60
	galleryMaxLines    = 20
)

// ImageFetcher downloads a finished result.
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL string) ([]byte, error)
}

// Presenter draws studio output into Telegram chats.
type Presenter struct {
	tg     *telegram.Client
	images ImageFetcher
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	seen map[int64]map[int64]generation.Status
}

func NewPresenter(tg *telegram.Client, images ImageFetcher, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{
		tg:     tg,
		images: images,
		logger: logger,
		now:    time.Now,
		seen:   make(map[int64]map[int64]generation.Status),
	}
}

// Notifier sends session notices to chatID.
func (p *Presenter) Notifier(chatID int64) studio.Notifier {
	return studio.NotifierFunc(func(n studio.Notice) {
		if err := p.tg.SendText(chatID, noticeText(n)); err != nil {
			p.logger.Warn("send notice failed", "chat_id", chatID, "err", err)
		}
	})
}

// Forget drops the results seen in chatID. The next draw there records a
// fresh baseline.
func (p *Presenter) Forget(chatID int64) {
	p.mu.Lock()
	delete(p.seen, chatID)
	p.mu.Unlock()
}

// Render draws the gallery into chatID. Results that finished since the
// previous draw are sent as photos; the first draw only records the state.
func (p *Presenter) Render(chatID int64) gallery.RenderFunc {
	return func(ctx context.Context, snap gallery.Snapshot) error {
		finished := p.newlyFinished(chatID, snap.Records)
		if err := p.tg.SendText(chatID, galleryText(snap, p.now())); err != nil {
			return err
		}

		for _, rec := range finished {
			p.sendResult(ctx, chatID, rec)
		}
		return nil
	}
}

func (p *Presenter) newlyFinished(chatID int64, records []generation.Record) []generation.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev, ok := p.seen[chatID]
	next := make(map[int64]generation.Status, len(records))
	var out []generation.Record
	for _, rec := range records {
		next[rec.ID] = rec.Status
		if !ok || rec.Status != generation.StatusCompleted || rec.ResultURL == "" {
			continue
		}
		if prev[rec.ID] != generation.StatusCompleted {
			out = append(out, rec)
		}
	}
	p.seen[chatID] = next
	return out
}

func (p *Presenter) sendResult(ctx context.Context, chatID int64, rec generation.Record) {
	caption := fmt.Sprintf("✅ #%d %s", rec.ID, preview(rec.Prompt, promptPreviewRunes))

	var err error
	if imagedecode.IsDataURI(rec.ResultURL) {
		err = p.tg.SendPhotoDataURI(chatID, rec.ResultURL, caption)
	} else {
		var data []byte
		data, err = p.images.FetchImage(ctx, rec.ResultURL)
		if err == nil {
			err = p.tg.SendPhotoBytes(chatID, "result-"+strconv.FormatInt(rec.ID, 10)+".png", data, caption)
		}
	}
	if err != nil {
		p.logger.Warn("send result failed", "chat_id", chatID, "id", rec.ID, "err", err)
		_ = p.tg.SendText(chatID, caption+"\n"+rec.ResultURL)
	}
}

func noticeText(n studio.Notice) string {
	switch n.Level {
	case studio.LevelSuccess:
		return "✅ " + n.Text
	case studio.LevelWarning:
		return "⚠️ " + n.Text
	case studio.LevelError:
		return "❌ " + n.Text
	}
	return "ℹ️ " + n.Text
}

func panelText(st studio.State) string {
	var b strings.Builder
	b.WriteString("🍌 Studio\n\n")

	if st.LoggedIn {
		b.WriteString("Account: " + userLine(st.User) + "\n")
	} else {
		b.WriteString("Account: not logged in (/login)\n")
	}

	mode := "text → image"
	if st.Form.Mode == generation.ImageToImage {
		mode = "image → image"
	}
	fmt.Fprintf(&b, "Mode: %s\n", mode)
	fmt.Fprintf(&b, "Prompt: %s\n", orDash(preview(st.Form.Prompt, promptPreviewRunes)))
	if st.Form.NegativePrompt != "" {
		fmt.Fprintf(&b, "Negative: %s\n", preview(st.Form.NegativePrompt, promptPreviewRunes))
	}

	w, h := ratio.Dimensions(st.Form.Resolution, st.Ratio)
	fmt.Fprintf(&b, "Output: %s %s (%d×%d)\n", st.Form.Resolution, st.Ratio, w, h)
	fmt.Fprintf(&b, "Steps: %d · Guidance: %s · Seed: %s\n",
		st.Form.Steps, strconv.FormatFloat(st.Form.Guidance, 'f', -1, 64), seedText(st.Form.Seed))

	if st.Form.Mode == generation.ImageToImage {
		fmt.Fprintf(&b, "References: %d/%d\n", len(st.References), reference.MaxImages)
		key := "missing (/key)"
		if st.HasAPIKey {
			key = "saved"
		}
		fmt.Fprintf(&b, "API key: %s\n", key)
	}
	return b.String()
}

func ratioText(st studio.State) string {
	text := "📐 Aspect ratio: " + string(st.Ratio)
	if st.Choice.IsDerived() {
		n, _ := st.Choice.Slot()
		text += fmt.Sprintf(" (from reference %d)", n)
	}
	if st.AutoSelected {
		text += "\nPicked automatically from the first reference."
	}
	return text
}

func referencesText(st studio.State) string {
	if len(st.References) == 0 {
		return "🖼 No references. Send up to 4 photos."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🖼 References %d/%d\n", len(st.References), reference.MaxImages)
	for i, img := range st.References {
		b.WriteString(referenceCaption(i, img) + "\n")
	}
	return b.String()
}

func referenceCaption(i int, img reference.Image) string {
	text := fmt.Sprintf("%d. Reference %d", i+1, i+1)
	if img.Decoded() {
		text += fmt.Sprintf(" · %d×%d · %s", img.Width, img.Height, img.Label)
	} else {
		text += " · decoding…"
	}
	if img.Source != nil && img.Source.Name != "" {
		text += " · " + img.Source.Name
	}
	return text
}

func galleryText(snap gallery.Snapshot, now time.Time) string {
	st := snap.Stats
	if len(snap.Records) == 0 {
		return "🖼 Gallery is empty. Set a prompt and /generate."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🖼 Gallery: %d of %d · kept %d days", st.Shown, st.Total, st.RetentionDays)
	if st.HasOldest {
		if st.CleanupInDays == 0 {
			b.WriteString(" · oldest cleanup due")
		} else {
			fmt.Fprintf(&b, " · oldest cleanup in %dd", st.CleanupInDays)
		}
	}
	b.WriteString("\n")

	for i, rec := range snap.Records {
		if i == galleryMaxLines {
			fmt.Fprintf(&b, "… %d more\n", len(snap.Records)-i)
			break
		}
		b.WriteString(galleryLine(rec, st.RetentionDays, now) + "\n")
	}
	return b.String()
}

func galleryLine(rec generation.Record, retentionDays int, now time.Time) string {
	line := fmt.Sprintf("%s #%d %s", statusIcon(rec.Status), rec.ID, preview(rec.Prompt, 40))
	if rec.AspectRatio != "" {
		line += " · " + rec.AspectRatio
	}
	switch {
	case rec.Status == generation.StatusFailed && rec.ErrorMessage != "":
		line += " · " + preview(rec.ErrorMessage, 40)
	case rec.Status.Active():
		line += " · " + string(rec.Status)
	default:
		if days, ok := gallery.DaysLeft(rec, retentionDays, now); ok {
			line += fmt.Sprintf(" · %dd left", days)
		}
	}
	return line
}

// recordText is the parameters panel of one generation.
func recordText(rec generation.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Generation #%d (%s)\n", statusIcon(rec.Status), rec.ID, rec.Status)
	if !rec.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", rec.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Prompt: %s\n", orDash(rec.Prompt))
	if rec.NegativePrompt != "" {
		fmt.Fprintf(&b, "Negative: %s\n", rec.NegativePrompt)
	}
	fmt.Fprintf(&b, "Mode: %s\n", orDash(string(rec.GenerationMode)))
	fmt.Fprintf(&b, "Resolution: %s · Ratio: %s\n", orDash(rec.Resolution), orDash(rec.AspectRatio))
	fmt.Fprintf(&b, "Steps: %d · Guidance: %s · Seed: %s\n",
		rec.NumInferenceSteps, strconv.FormatFloat(rec.GuidanceScale, 'f', -1, 64), seedText(rec.Seed))
	if n := len(rec.ReferenceImages); n > 0 {
		fmt.Fprintf(&b, "References: %d\n", n)
	}
	if rec.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.ErrorMessage)
	}
	return b.String()
}

func statusIcon(s generation.Status) string {
	switch s {
	case generation.StatusPending:
		return "⏳"
	case generation.StatusRunning:
		return "⚙️"
	case generation.StatusCompleted:
		return "✅"
	case generation.StatusFailed:
		return "❌"
	}
	return "•"
}

func seedText(seed *int64) string {
	if seed == nil {
		return "random"
	}
	return strconv.FormatInt(*seed, 10)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "—"
	}
	return s
}

// preview shortens s to at most n runes on one line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

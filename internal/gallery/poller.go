package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"nano-banana-studio/internal/api"
	"nano-banana-studio/internal/generation"
)

// ErrBusy is returned when a refresh is already in flight.
var ErrBusy = errors.New("gallery: refresh in progress")

const (
	DefaultBackgroundInterval = 5 * time.Second
	DefaultFastDelay          = 800 * time.Millisecond
	DefaultFastInterval       = 2 * time.Second
	DefaultFastMaxTicks       = 150
	DefaultListLimit          = 50
)

// Snapshot is one rendered state of the gallery.
type Snapshot struct {
	Records []generation.Record
	Meta    *api.Meta
	Stats   Stats
}

type FetchFunc func(ctx context.Context) (api.ListResult, error)

type RenderFunc func(ctx context.Context, snap Snapshot) error

type Options struct {
	Fetch  FetchFunc
	Render RenderFunc

	BackgroundInterval time.Duration
	FastDelay          time.Duration
	FastInterval       time.Duration
	FastMaxTicks       int

	Now    func() time.Time
	Logger *slog.Logger
}

// Poller keeps a rendered gallery in sync with the backend. Refresh cycles
// never overlap; the background and fast regimes both go through them.
type Poller struct {
	fetch  FetchFunc
	render RenderFunc
	now    func() time.Time
	logger *slog.Logger

	dedupe Deduper
	busy   atomic.Bool

	background *Task
	fast       *Task
}

func NewPoller(opts Options) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	bgInterval := opts.BackgroundInterval
	if bgInterval <= 0 {
		bgInterval = DefaultBackgroundInterval
	}
	fastDelay := opts.FastDelay
	if fastDelay <= 0 {
		fastDelay = DefaultFastDelay
	}
	fastInterval := opts.FastInterval
	if fastInterval <= 0 {
		fastInterval = DefaultFastInterval
	}
	fastMax := opts.FastMaxTicks
	if fastMax <= 0 {
		fastMax = DefaultFastMaxTicks
	}

	p := &Poller{
		fetch:  opts.Fetch,
		render: opts.Render,
		now:    now,
		logger: logger,
	}
	p.background = NewTask(TaskOptions{
		Interval: bgInterval,
		Run:      p.backgroundTick,
	})
	p.fast = NewTask(TaskOptions{
		Interval:   fastInterval,
		FirstDelay: fastDelay,
		MaxTicks:   fastMax,
		Run:        p.fastTick,
	})
	return p
}

// Refresh runs one fetch, dedupe and render cycle. It reports whether the
// gallery was redrawn.
func (p *Poller) Refresh(ctx context.Context) (bool, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return false, ErrBusy
	}
	defer p.busy.Store(false)

	res, err := p.fetch(ctx)
	if err != nil {
		return false, err
	}
	return p.apply(ctx, res)
}

// Invalidate makes the next refresh redraw even if nothing changed.
func (p *Poller) Invalidate() {
	p.dedupe.Invalidate()
}

// StartBackground begins the slow poll. It only redraws while some record
// is pending or running.
func (p *Poller) StartBackground(ctx context.Context) {
	p.background.Start(ctx)
}

// Kick starts the fast poll after a submission, replacing a running one.
func (p *Poller) Kick(ctx context.Context) {
	p.fast.Start(ctx)
}

func (p *Poller) FastActive() bool {
	return p.fast.Active()
}

func (p *Poller) BackgroundActive() bool {
	return p.background.Active()
}

func (p *Poller) Stop() {
	p.fast.Stop()
	p.background.Stop()
}

func (p *Poller) apply(ctx context.Context, res api.ListResult) (bool, error) {
	records := Sort(res.Generations)
	if !p.dedupe.ShouldRedraw(records) {
		return false, nil
	}

	snap := Snapshot{
		Records: records,
		Meta:    res.Meta,
		Stats:   ComputeStats(records, res.Meta, p.now()),
	}
	if p.render != nil {
		if err := p.render(ctx, snap); err != nil {
			p.dedupe.Invalidate()
			return false, fmt.Errorf("gallery: render: %w", err)
		}
	}
	return true, nil
}

func (p *Poller) backgroundTick(ctx context.Context, _ int) bool {
	res, err := p.fetch(ctx)
	if err != nil {
		p.logger.Debug("background gallery poll failed", "err", err)
		return true
	}
	if !AnyActive(res.Generations) {
		return true
	}
	if !p.busy.CompareAndSwap(false, true) {
		return true
	}
	defer p.busy.Store(false)

	if _, err := p.apply(ctx, res); err != nil {
		p.logger.Warn("background gallery render failed", "err", err)
	}
	return true
}

func (p *Poller) fastTick(ctx context.Context, tick int) bool {
	p.refreshLogged(ctx, "fast")
	if tick == 0 {
		return true
	}

	res, err := p.fetch(ctx)
	if err != nil {
		p.logger.Debug("fast gallery check failed", "tick", tick, "err", err)
		return true
	}
	if AnyActive(res.Generations) {
		return true
	}

	p.logger.Debug("no active generations, stopping fast poll", "tick", tick)
	p.refreshLogged(ctx, "final")
	return false
}

func (p *Poller) refreshLogged(ctx context.Context, regime string) {
	if _, err := p.Refresh(ctx); err != nil && !errors.Is(err, ErrBusy) && ctx.Err() == nil {
		p.logger.Warn("gallery refresh failed", "regime", regime, "err", err)
	}
}

package mediagroup

import (
	"sync"
	"time"
)

// MaxAlbumFiles is the most parts Telegram puts in one album.
const MaxAlbumFiles = 10

// File is one attachment of an album.
type File struct {
	ID   string
	Name string
}

type Item struct {
	ChatID       int64
	UserID       int64
	MediaGroupID string
	Caption      string
	File         File
}

// Group is a complete album, files in arrival order.
type Group struct {
	ChatID  int64
	UserID  int64
	Caption string
	Files   []File
}

type Options struct {
	Debounce time.Duration
	// MaxFiles flushes an album as soon as it holds that many parts.
	MaxFiles int
	OnFlush  func(Group)
}

// Aggregator collects album parts that Telegram delivers as separate
// updates. An album is flushed once no part arrived for Debounce, or when
// it is full.
type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	maxFiles int
	onFlush  func(Group)
	pending  map[albumKey]*album
	closed   bool
}

type albumKey struct {
	chatID  int64
	groupID string
}

type album struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}
	maxFiles := opts.MaxFiles
	if maxFiles <= 0 {
		maxFiles = MaxAlbumFiles
	}

	return &Aggregator{
		debounce: debounce,
		maxFiles: maxFiles,
		onFlush:  opts.OnFlush,
		pending:  make(map[albumKey]*album),
	}
}

// Add buffers one album part. It reports false for items that are not
// album parts and after Close.
func (a *Aggregator) Add(item Item) bool {
	if item.MediaGroupID == "" || item.File.ID == "" {
		return false
	}
	key := albumKey{chatID: item.ChatID, groupID: item.MediaGroupID}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}

	al, ok := a.pending[key]
	if !ok {
		al = &album{group: Group{ChatID: item.ChatID, UserID: item.UserID}}
		a.pending[key] = al
	}
	al.group.Files = append(al.group.Files, item.File)
	if item.Caption != "" {
		al.group.Caption = item.Caption
	}

	if al.timer != nil {
		al.timer.Stop()
	}
	if len(al.group.Files) >= a.maxFiles {
		a.mu.Unlock()
		a.flush(key)
		return true
	}
	al.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
	a.mu.Unlock()
	return true
}

// Pending reports how many albums are still collecting parts.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Discard drops the unflushed albums of chatID and returns how many were
// dropped.
func (a *Aggregator) Discard(chatID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for key, al := range a.pending {
		if key.chatID != chatID {
			continue
		}
		al.stop()
		delete(a.pending, key)
		dropped++
	}
	return dropped
}

// Close drops every pending album; later parts are ignored.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for key, al := range a.pending {
		al.stop()
		delete(a.pending, key)
	}
}

func (a *Aggregator) flush(key albumKey) {
	a.mu.Lock()
	al, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(al.group)
	}
}

func (al *album) stop() {
	if al.timer != nil {
		al.timer.Stop()
	}
}

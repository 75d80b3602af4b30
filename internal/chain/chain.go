package chain

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/providers/video"
)

// Entry pairs a descriptor with its live provider instance.
type Entry struct {
	Descriptor
	Provider video.Provider `json:"-"`
}

// Snapshot is an immutable, totally ordered view of the chain. Callers must not
// modify the returned slices.
type Snapshot struct {
	Version  uint64    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Entries  []Entry   `json:"entries"`
}

// Enabled returns the enabled entries in try order.
func (s *Snapshot) Enabled() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// Lookup finds an entry by provider id.
func (s *Snapshot) Lookup(id string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Builder constructs a provider instance for a descriptor, resolving credentials.
type Builder func(ctx context.Context, d Descriptor) (video.Provider, error)

// Options configures a Chain.
type Options struct {
	Logger *infra.Logger
	// OnChange is called after every swap with the new snapshot.
	OnChange func(*Snapshot)
	Now      func() time.Time
}

// Chain holds the active snapshot. Readers never lock; writers are serialized
// and publish a fresh snapshot with a single atomic store.
type Chain struct {
	current  atomic.Pointer[Snapshot]
	mu       sync.Mutex
	build    Builder
	logger   *infra.Logger
	onChange func(*Snapshot)
	now      func() time.Time
}

// New builds every provider and publishes the first snapshot.
func New(ctx context.Context, descs []Descriptor, build Builder, opts Options) (*Chain, error) {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	c := &Chain{build: build, logger: logger, onChange: opts.OnChange, now: now}
	snap, err := c.assemble(ctx, descs, nil, 1)
	if err != nil {
		return nil, err
	}
	c.current.Store(snap)
	return c, nil
}

// Snapshot returns the active chain. One generate call should read it once.
func (c *Chain) Snapshot() *Snapshot {
	return c.current.Load()
}

// SetEnabled toggles a provider and swaps in the resulting snapshot.
func (c *Chain) SetEnabled(id string, enabled bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	idx := slices.IndexFunc(old.Entries, func(e Entry) bool { return e.ID == id })
	if idx < 0 {
		return nil, fmt.Errorf("chain: provider %q: %w", id, domain.ErrNotFound)
	}
	entries := slices.Clone(old.Entries)
	entries[idx].Enabled = enabled
	next := &Snapshot{Version: old.Version + 1, LoadedAt: c.now(), Entries: entries}
	c.publish(next)
	c.logger.Info().Str("provider", id).Bool("enabled", enabled).Uint64("version", next.Version).Msg("chain: provider toggled")
	return next, nil
}

// Reload replaces the chain with descs. Providers whose construction inputs are
// unchanged keep their live instance, and with it their rate window. On error
// the active snapshot is left untouched.
func (c *Chain) Reload(ctx context.Context, descs []Descriptor) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	next, err := c.assemble(ctx, descs, old, old.Version+1)
	if err != nil {
		return nil, err
	}
	c.publish(next)
	c.logger.Info().Int("providers", len(next.Entries)).Uint64("version", next.Version).Msg("chain: reloaded")
	return next, nil
}

func (c *Chain) publish(s *Snapshot) {
	c.current.Store(s)
	if c.onChange != nil {
		c.onChange(s)
	}
}

func (c *Chain) assemble(ctx context.Context, descs []Descriptor, old *Snapshot, version uint64) (*Snapshot, error) {
	seen := make(map[string]struct{}, len(descs))
	entries := make([]Entry, 0, len(descs))
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("chain: provider id is required")
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("chain: duplicate provider id %q", d.ID)
		}
		seen[d.ID] = struct{}{}

		if prev, ok := old.Lookup(d.ID); ok && sameInstance(prev.Descriptor, d) {
			entries = append(entries, Entry{Descriptor: d, Provider: prev.Provider})
			continue
		}
		p, err := c.build(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("chain: build provider %q: %w", d.ID, err)
		}
		entries = append(entries, Entry{Descriptor: d, Provider: p})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority < entries[j].Priority
		}
		return entries[i].ID < entries[j].ID
	})
	return &Snapshot{Version: version, LoadedAt: c.now(), Entries: entries}, nil
}

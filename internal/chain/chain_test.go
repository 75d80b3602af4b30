package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"vidgen/internal/config"
	"vidgen/internal/domain"
	"vidgen/internal/providers/video"
	"vidgen/internal/ratelimit"
)

type stubProvider struct {
	id string
}

func (s *stubProvider) ID() string                             { return s.id }
func (s *stubProvider) EstimateCost(domain.Brief) domain.Money { return 0 }
func (s *stubProvider) RateLimitState() ratelimit.State        { return ratelimit.State{Remaining: -1} }
func (s *stubProvider) Submit(context.Context, domain.Brief) (video.JobHandle, error) {
	return video.JobHandle{}, nil
}
func (s *stubProvider) Poll(context.Context, video.JobHandle) (video.PollResult, error) {
	return video.PollResult{}, nil
}

type countingBuilder struct {
	mu    sync.Mutex
	built map[string]int
	fail  string
}

func (b *countingBuilder) build(_ context.Context, d Descriptor) (video.Provider, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d.ID == b.fail {
		return nil, errors.New("boom")
	}
	if b.built == nil {
		b.built = map[string]int{}
	}
	b.built[d.ID]++
	return &stubProvider{id: d.ID}, nil
}

func descs() []Descriptor {
	return []Descriptor{
		{ID: "runway", Kind: video.KindRunway, Enabled: true, Priority: 3},
		{ID: "pika", Kind: video.KindPika, Enabled: true, Priority: 2},
		{ID: "kling", Kind: video.KindKling, Enabled: true, Priority: 2},
		{ID: "heygen", Kind: video.KindHeyGen, Enabled: false, Priority: 1},
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSnapshotOrderAndEnabled(t *testing.T) {
	b := &countingBuilder{}
	c, err := New(context.Background(), descs(), b.build, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := c.Snapshot()
	if got, want := ids(snap.Entries), []string{"heygen", "kling", "pika", "runway"}; !equalIDs(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if got, want := ids(snap.Enabled()), []string{"kling", "pika", "runway"}; !equalIDs(got, want) {
		t.Fatalf("enabled = %v, want %v", got, want)
	}
	if snap.Version != 1 {
		t.Fatalf("Version = %d, want 1", snap.Version)
	}
}

func TestSetEnabledSwapsSnapshot(t *testing.T) {
	b := &countingBuilder{}
	var notified []uint64
	c, err := New(context.Background(), descs(), b.build, Options{
		OnChange: func(s *Snapshot) { notified = append(notified, s.Version) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := c.Snapshot()
	after, err := c.SetEnabled("kling", false)
	if err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if e, _ := before.Lookup("kling"); !e.Enabled {
		t.Fatalf("earlier snapshot was mutated")
	}
	if e, _ := after.Lookup("kling"); e.Enabled {
		t.Fatalf("kling still enabled")
	}
	if c.Snapshot() != after || after.Version != 2 {
		t.Fatalf("active snapshot not swapped")
	}
	if len(notified) != 1 || notified[0] != 2 {
		t.Fatalf("notified = %v", notified)
	}
	if _, err := c.SetEnabled("veo", true); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReloadReusesUnchangedProviders(t *testing.T) {
	b := &countingBuilder{}
	c, err := New(context.Background(), descs(), b.build, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	oldKling, _ := c.Snapshot().Lookup("kling")

	next := descs()
	next[2].Priority = 9           // kling: chain-only change
	next[1].RequestsPerMinute = 10 // pika: rebuild
	next = next[:3]                // heygen removed
	snap, err := c.Reload(context.Background(), next)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	newKling, _ := snap.Lookup("kling")
	if newKling.Provider != oldKling.Provider {
		t.Fatalf("kling instance should be reused")
	}
	if b.built["kling"] != 1 || b.built["pika"] != 2 {
		t.Fatalf("built = %v", b.built)
	}
	if _, ok := snap.Lookup("heygen"); ok {
		t.Fatalf("heygen should be gone")
	}
	if got, want := ids(snap.Entries), []string{"pika", "runway", "kling"}; !equalIDs(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestReloadFailureKeepsActiveSnapshot(t *testing.T) {
	b := &countingBuilder{}
	c, err := New(context.Background(), descs(), b.build, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := c.Snapshot()
	b.fail = "newcomer"
	next := append(descs(), Descriptor{ID: "newcomer", Kind: video.KindSynthetic, Enabled: true})
	if _, err := c.Reload(context.Background(), next); err == nil {
		t.Fatalf("expected build error")
	}
	if c.Snapshot() != before {
		t.Fatalf("snapshot replaced despite failure")
	}
	dup := append(descs(), Descriptor{ID: "kling"})
	if _, err := c.Reload(context.Background(), dup); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestFromEngineParsesMoneyAndDurations(t *testing.T) {
	f, err := config.ParseEngine([]byte(`
providers:
  - id: runway
    priority: 3
    cost_per_unit: 0.10
    cost_unit: second
    timeout: 4m
    latency_hint: 90s
    styles: [Cinematic]
  - id: local
    kind: synthetic
    enabled: false
`))
	if err != nil {
		t.Fatalf("ParseEngine: %v", err)
	}
	ds, err := FromEngine(f)
	if err != nil {
		t.Fatalf("FromEngine: %v", err)
	}
	rw := ds[0]
	if rw.Kind != video.KindRunway || rw.Cost.PerUnit != domain.MustMoney("0.10") || rw.Cost.Unit != video.PerSecond {
		t.Fatalf("runway = %+v", rw)
	}
	if rw.PollTimeout().Minutes() != 4 || rw.LatencyHint.Seconds() != 90 {
		t.Fatalf("durations = %v / %v", rw.Timeout, rw.LatencyHint)
	}
	if rw.Styles[0] != "cinematic" {
		t.Fatalf("styles = %v", rw.Styles)
	}
	if ds[1].Enabled || ds[1].PollTimeout() != DefaultPollTimeout {
		t.Fatalf("local = %+v", ds[1])
	}

	bad, _ := config.ParseEngine([]byte("providers:\n  - id: x\n    kind: veo\n"))
	if _, err := FromEngine(bad); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	b := &countingBuilder{}
	c, err := New(context.Background(), descs(), b.build, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := c.Snapshot()
				enabled := 0
				for _, e := range snap.Entries {
					if e.Enabled {
						enabled++
					}
				}
				if len(snap.Enabled()) != enabled {
					t.Errorf("inconsistent snapshot")
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if _, err := c.SetEnabled("pika", j%2 == 0); err != nil {
			t.Fatalf("SetEnabled: %v", err)
		}
	}
	wg.Wait()
}

func TestFromEngineImageToVideo(t *testing.T) {
	f, err := config.ParseEngine([]byte(`
providers:
  - id: kling
    kind: kling
  - id: heygen
    kind: heygen
  - id: runway
    kind: runway
    image_to_video: false
`))
	if err != nil {
		t.Fatalf("ParseEngine: %v", err)
	}
	ds, err := FromEngine(f)
	if err != nil {
		t.Fatalf("FromEngine: %v", err)
	}
	want := []bool{true, false, false}
	for i, d := range ds {
		if d.ImageToVideo != want[i] {
			t.Fatalf("%s image_to_video = %v, want %v", d.ID, d.ImageToVideo, want[i])
		}
		if d.Settings("k").ImageToVideo != want[i] {
			t.Fatalf("%s settings lost image_to_video", d.ID)
		}
	}
	changed := ds[0]
	changed.ImageToVideo = false
	if sameInstance(ds[0], changed) {
		t.Fatalf("toggling image_to_video should rebuild the provider")
	}
}

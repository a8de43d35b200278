package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/presence"
	"github.com/adamavenir/rooms/internal/store"
	"github.com/adamavenir/rooms/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

// staticDirectory is a presence directory with a fixed snapshot.
type staticDirectory struct {
	mu       sync.Mutex
	snapshot presence.Snapshot
}

func (s *staticDirectory) ListSessions(context.Context) presence.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := presence.Snapshot{}
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

func (s *staticDirectory) set(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = presence.Snapshot{}
	for _, id := range ids {
		s.snapshot[strings.ToLower(id)] = types.PresenceEntry{
			Name:   presence.DisplayName(id),
			Status: types.PresenceActive,
		}
	}
}

// fakeActuator records deliveries instead of driving a terminal.
type fakeActuator struct {
	mu       sync.Mutex
	sessions map[string]bool
	failSend map[string]bool
	calls    []string
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{sessions: map[string]bool{}, failSend: map[string]bool{}}
}

func (f *fakeActuator) HasSession(_ context.Context, session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "has:"+session)
	return f.sessions[session]
}

func (f *fakeActuator) SendText(_ context.Context, session, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[session] {
		return fmt.Errorf("send to %s failed", session)
	}
	f.calls = append(f.calls, "send:"+session+":"+text)
	return nil
}

func (f *fakeActuator) Submit(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit:"+session)
	return nil
}

func (f *fakeActuator) deliveries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if !strings.HasPrefix(call, "has:") {
			out = append(out, call)
		}
	}
	return out
}

// testHarness provides a temp rooms root and a daemon wired to fakes.
type testHarness struct {
	t      *testing.T
	root   string
	store  *store.Store
	dir    *staticDirectory
	act    *fakeActuator
	daemon *Daemon
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	return newTestHarnessWithConfig(t, func(*core.Config) {})
}

func newTestHarnessWithConfig(t *testing.T, mutate func(*core.Config)) *testHarness {
	t.Helper()

	root := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.RootDir = root
	mutate(&cfg)
	require.NoError(t, cfg.Normalize())
	cfg.SendPause = 0
	cfg.SubmitPause = 0

	st := store.New(cfg.RootDir)
	dir := &staticDirectory{snapshot: presence.Snapshot{}}
	act := newFakeActuator()

	d := New(cfg, Deps{Store: st, Presence: dir, Actuator: act, Logger: zerolog.Nop()})
	d.now = func() time.Time { return fixedNow }
	d.sleep = func(context.Context, time.Duration) {}

	return &testHarness{t: t, root: cfg.RootDir, store: st, dir: dir, act: act, daemon: d}
}

func (h *testHarness) createRoom(name string) {
	h.t.Helper()
	_, err := h.store.CreateRoom(name, "system", fixedNow)
	require.NoError(h.t, err)
}

func (h *testHarness) drop(room, filename, body string) {
	h.t.Helper()
	path := filepath.Join(h.root, room, "inbox", filename)
	require.NoError(h.t, os.WriteFile(path, []byte(body), 0o644))
}

func (h *testHarness) participants(room string) []string {
	h.t.Helper()
	m, ok, err := h.store.LoadMembership(room)
	require.NoError(h.t, err)
	require.True(h.t, ok, "room.yaml missing for %s", room)
	return m.Participants
}

func TestConsolidateMentionOfPresentAgent(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")
	h.dir.set("bob")
	h.act.sessions["bob_session"] = true
	h.act.sessions["alice_session"] = true
	h.drop("ops", "20240101-120000-alice.md", "  Hello @bob, status?\n\n")

	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, ScanResult{Rooms: 1, Consolidated: 1}, result)

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.ThreadEntry{Sender: "alice", Time: "12:34:56", Body: "Hello @bob, status?"}, entries[0])

	raw, err := os.ReadFile(h.store.ThreadPath("ops"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n---\n\n**alice** (12:34:56):\nHello @bob, status?\n")

	pending, err := h.store.ListPending("ops")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.True(t, h.store.IsArchived("ops", "20240101-120000-alice.md"))

	assert.Equal(t, []string{"alice", "Bob"}, h.participants("ops"))

	deliveries := h.act.deliveries()
	require.Len(t, deliveries, 2)
	assert.True(t, strings.HasPrefix(deliveries[0], "send:bob_session:[Room:ops 12:34]: @Bob from alice."), deliveries[0])
	assert.Equal(t, "submit:bob_session", deliveries[1])
	for _, call := range h.act.calls {
		assert.NotContains(t, call, "alice_session")
	}
}

func TestConsolidateWithoutPresence(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")
	h.act.sessions["bob_session"] = true
	h.drop("ops", "20240101-120000-alice.md", "Hello @bob, status?")

	h.daemon.ScanOnce(context.Background())

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Sender)
	assert.Equal(t, []string{"alice"}, h.participants("ops"))
	assert.Empty(t, h.act.deliveries())
}

func TestScanKeepsArrivalOrderWithinRoom(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")
	// Written newest first so directory order cannot help.
	h.drop("ops", "20240101-100001-y.md", "second")
	h.drop("ops", "20240101-100000-x.md", "first")

	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 2, result.Consolidated)

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "x", entries[0].Sender)
	assert.Equal(t, "first", entries[0].Body)
	assert.Equal(t, "y", entries[1].Sender)
	assert.Equal(t, "second", entries[1].Body)
	assert.Equal(t, []string{"x", "y"}, h.participants("ops"))
}

func TestConsolidateFallbackSender(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")
	h.drop("ops", "notes.md", "free-form drop")

	outcome, err := h.daemon.Consolidate(context.Background(), "ops", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "notes", outcome.Message.Sender)
	assert.Equal(t, types.MessageRecorded, outcome.Message.State)
	assert.Equal(t, []string{"notes"}, h.participants("ops"))
}

func TestConsolidateSkipsArchivedFilename(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")
	h.drop("ops", "20240101-120000-alice.md", "once")
	h.daemon.ScanOnce(context.Background())

	// Same filename shows up again.
	h.drop("ops", "20240101-120000-alice.md", "twice")
	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 0, result.Consolidated)
	assert.Equal(t, 0, result.Failed)

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "once", entries[0].Body)

	pending, err := h.store.ListPending("ops")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStorageFailureIsolatedToRoom(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("broken")
	h.createRoom("ops")

	// A directory where the log should be makes every append fail.
	require.NoError(t, os.Remove(h.store.ThreadPath("broken")))
	require.NoError(t, os.Mkdir(h.store.ThreadPath("broken"), 0o755))

	h.drop("broken", "20240101-120000-alice.md", "lost?")
	h.drop("broken", "20240101-120001-alice.md", "also pending")
	h.drop("ops", "20240101-120000-bob.md", "fine")

	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 2, result.Rooms)
	assert.Equal(t, 1, result.Consolidated)
	assert.Equal(t, 1, result.Failed)

	pending, err := h.store.ListPending("broken")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101-120000-alice.md", "20240101-120001-alice.md"}, pending)

	// Once storage is repaired the pending messages go through in order.
	require.NoError(t, os.Remove(h.store.ThreadPath("broken")))
	result = h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 2, result.Consolidated)

	entries, err := h.store.ReadThread("broken")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "lost?", entries[0].Body)
	assert.Equal(t, "also pending", entries[1].Body)
}

func TestArchivePlusInboxCoversEveryMessage(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")

	placed := []string{
		"20240101-090000-a.md",
		"20240101-090001-b.md",
		"20240101-090002-c.md",
	}
	for _, name := range placed[:2] {
		h.drop("ops", name, "hi from "+name)
	}
	h.daemon.ScanOnce(context.Background())
	h.drop("ops", placed[2], "late")

	processed, err := h.store.ListProcessed("ops")
	require.NoError(t, err)
	pending, err := h.store.ListPending("ops")
	require.NoError(t, err)
	assert.ElementsMatch(t, placed, append(processed, pending...))

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	assert.Len(t, entries, len(processed))
}

func TestRoomFilters(t *testing.T) {
	h := newTestHarnessWithConfig(t, func(cfg *core.Config) {
		cfg.Rooms = []string{"ops*"}
	})
	h.createRoom("ops-east")
	h.createRoom("random")
	h.drop("ops-east", "20240101-120000-a.md", "watched")
	h.drop("random", "20240101-120000-a.md", "ignored")

	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, ScanResult{Rooms: 1, Consolidated: 1}, result)

	pending, err := h.store.ListPending("random")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStartBootstrapsLobbyAndConsolidates(t *testing.T) {
	h := newTestHarnessWithConfig(t, func(cfg *core.Config) {
		cfg.PollInterval = 10 * time.Millisecond
	})

	require.NoError(t, h.daemon.Start(context.Background()))
	t.Cleanup(func() { _ = h.daemon.Stop() })

	require.True(t, h.store.RoomExists("lobby"))
	m, ok, err := h.store.LoadMembership("lobby")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "system", m.CreatedBy)

	h.drop("lobby", "20240101-120000-carol.md", "anyone here?")
	require.Eventually(t, func() bool {
		return h.store.IsArchived("lobby", "20240101-120000-carol.md")
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.daemon.Stop())
	_, err = os.Stat(filepath.Join(h.root, ".rooms", "daemon.lock"))
	assert.True(t, os.IsNotExist(err), "lock should be released")
}

func TestSecondDaemonRefusesLock(t *testing.T) {
	h := newTestHarnessWithConfig(t, func(cfg *core.Config) {
		cfg.PollInterval = time.Hour
	})
	require.NoError(t, h.daemon.Start(context.Background()))
	t.Cleanup(func() { _ = h.daemon.Stop() })

	other := New(h.daemon.cfg, Deps{Store: h.store, Logger: zerolog.Nop()})
	err := other.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
	assert.True(t, IsLocked(h.daemon.cfg.StateDir()))

	info, err := ReadLock(h.daemon.cfg.StateDir())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, h.daemon.instance, info.Instance)
}

func TestStaleLockIsReplaced(t *testing.T) {
	h := newTestHarnessWithConfig(t, func(cfg *core.Config) {
		cfg.PollInterval = time.Hour
	})
	stateDir := h.daemon.cfg.StateDir()
	require.NoError(t, os.MkdirAll(stateDir, 0o755))
	// PID 0 is never a live daemon.
	stale := `{"pid":0,"started_at":1,"instance":"old"}`
	require.NoError(t, os.WriteFile(filepath.Join(stateDir, "daemon.lock"), []byte(stale), 0o600))

	require.NoError(t, h.daemon.Start(context.Background()))
	require.NoError(t, h.daemon.Stop())
}

func TestUnusableArchiveDoesNotGrowLog(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")

	processed := filepath.Join(h.root, "ops", "processed")
	require.NoError(t, os.RemoveAll(processed))
	require.NoError(t, os.WriteFile(processed, []byte("not a dir"), 0o644))

	h.drop("ops", "20240101-120000-alice.md", "once only")

	for i := 0; i < 3; i++ {
		result := h.daemon.ScanOnce(context.Background())
		assert.Equal(t, 0, result.Consolidated)
		assert.Equal(t, 1, result.Failed)
	}

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	assert.Empty(t, entries)

	pending, err := h.store.ListPending("ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101-120000-alice.md"}, pending)

	require.NoError(t, os.Remove(processed))
	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 1, result.Consolidated)

	entries, err = h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "once only", entries[0].Body)
}

func TestUnreadableMessageDoesNotBlockRoom(t *testing.T) {
	h := newTestHarness(t)
	h.createRoom("ops")

	h.drop("ops", "20240101-120000-alice.md", "first")
	h.drop("ops", "20240101-120001-bob.md", "unreadable")
	h.drop("ops", "20240101-120002-carol.md", "third")

	read := h.daemon.readMessage
	h.daemon.readMessage = func(room, filename string) (types.Message, error) {
		if filename == "20240101-120001-bob.md" {
			return types.Message{}, fmt.Errorf("read %s: input/output error", filename)
		}
		return read(room, filename)
	}

	result := h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 2, result.Consolidated)
	assert.Equal(t, 1, result.Failed)

	entries, err := h.store.ReadThread("ops")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Body)
	assert.Equal(t, "third", entries[1].Body)

	pending, err := h.store.ListPending("ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240101-120001-bob.md"}, pending)

	h.daemon.readMessage = read
	result = h.daemon.ScanOnce(context.Background())
	assert.Equal(t, 1, result.Consolidated)
}

func TestConcurrentLockAcquisition(t *testing.T) {
	h := newTestHarness(t)

	const contenders = 8
	daemons := make([]*Daemon, contenders)
	for i := range daemons {
		daemons[i] = New(h.daemon.cfg, Deps{Store: h.store, Logger: zerolog.Nop()})
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i, d := range daemons {
		wg.Add(1)
		go func(i int, d *Daemon) {
			defer wg.Done()
			errs[i] = d.acquireLock()
		}(i, d)
	}
	wg.Wait()

	winners := 0
	var holder *Daemon
	for i, err := range errs {
		if err == nil {
			winners++
			holder = daemons[i]
		}
	}
	require.Equal(t, 1, winners, "errors: %v", errs)

	info, err := ReadLock(h.daemon.cfg.StateDir())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, holder.instance, info.Instance)
	require.NoError(t, holder.releaseLock())
}

package snooze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory mail store keyed by user and folder.
type fakeGateway struct {
	boxes    map[string]map[string][]string
	calls    []string
	fetchErr map[string]error
	addErr   error
	rmErr    error
	moveErr  error
	panicFor string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{boxes: map[string]map[string][]string{}, fetchErr: map[string]error{}}
}

func boxKey(user, folder string) string { return user + "|" + folder }

func (f *fakeGateway) put(user, folder, id string, tags ...string) {
	key := boxKey(user, folder)
	if f.boxes[key] == nil {
		f.boxes[key] = map[string][]string{}
	}
	f.boxes[key][id] = tags
}

func (f *fakeGateway) tags(user, folder, id string) ([]string, bool) {
	tags, ok := f.boxes[boxKey(user, folder)][id]
	return tags, ok
}

func (f *fakeGateway) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeGateway) FetchMessages(ctx context.Context, user, folder string) ([]MessageRecord, error) {
	_ = ctx
	if user == f.panicFor {
		panic("store exploded")
	}
	f.calls = append(f.calls, fmt.Sprintf("fetch %s %s", user, folder))
	if err := f.fetchErr[user]; err != nil {
		return nil, err
	}
	box := f.boxes[boxKey(user, folder)]
	ids := make([]string, 0, len(box))
	for id := range box {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]MessageRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, MessageRecord{ID: id, Tags: append([]string(nil), box[id]...)})
	}
	return out, nil
}

func (f *fakeGateway) AddTag(ctx context.Context, user, folder, id, tag string) error {
	_ = ctx
	f.calls = append(f.calls, fmt.Sprintf("add %s %s %s %s", user, folder, id, tag))
	if f.addErr != nil {
		return f.addErr
	}
	tags, _ := f.tags(user, folder, id)
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	f.put(user, folder, id, append(tags, tag)...)
	return nil
}

func (f *fakeGateway) RemoveTag(ctx context.Context, user, folder, id, tag string) error {
	_ = ctx
	f.calls = append(f.calls, fmt.Sprintf("remove %s %s %s %s", user, folder, id, tag))
	if f.rmErr != nil {
		return f.rmErr
	}
	drop := map[string]bool{}
	for _, t := range strings.Fields(tag) {
		drop[t] = true
	}
	tags, _ := f.tags(user, folder, id)
	kept := []string{}
	for _, t := range tags {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	f.put(user, folder, id, kept...)
	return nil
}

func (f *fakeGateway) MoveMessage(ctx context.Context, user, folder, id, dest string) error {
	_ = ctx
	f.calls = append(f.calls, fmt.Sprintf("move %s %s %s %s", user, folder, id, dest))
	if f.moveErr != nil {
		return f.moveErr
	}
	tags, _ := f.tags(user, folder, id)
	delete(f.boxes[boxKey(user, folder)], id)
	f.put(user, dest, id, tags...)
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(gw Gateway, now time.Time) *Engine {
	e := NewEngine(gw, slogDiscard())
	e.Location = time.UTC
	e.Clock = func() time.Time { return now }
	return e
}

const hourFolder = "Snooze.For 1 Hour"

func TestSweepEndToEnd(t *testing.T) {
	t0 := time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC)
	gw := newFakeGateway()
	gw.put("alice", hourFolder, "42")

	rep := newTestEngine(gw, t0).Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, 0, rep.Released)
	assert.Equal(t, 5, rep.Folders)
	tags, ok := gw.tags("alice", hourFolder, "42")
	require.True(t, ok)
	want := fmt.Sprintf("MoveAt%d", t0.Unix()+3600)
	assert.Equal(t, []string{want}, tags)

	rep = newTestEngine(gw, t0.Add(30*time.Minute)).Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 0, rep.Assigned)
	assert.Equal(t, 0, rep.Released)
	tags, ok = gw.tags("alice", hourFolder, "42")
	require.True(t, ok)
	assert.Equal(t, []string{want}, tags)

	rep = newTestEngine(gw, t0.Add(3601*time.Second)).Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Released)
	assert.True(t, rep.OK())
	_, ok = gw.tags("alice", hourFolder, "42")
	assert.False(t, ok)
	tags, ok = gw.tags("alice", "INBOX", "42")
	require.True(t, ok)
	assert.Empty(t, tags)
	assert.Contains(t, gw.calls, fmt.Sprintf(`remove alice %s 42 \Seen %s`, hourFolder, want))
	assert.Contains(t, gw.calls, fmt.Sprintf("move alice %s 42 INBOX", hourFolder))
}

func TestAssignIsIdempotent(t *testing.T) {
	now := time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC)
	gw := newFakeGateway()
	gw.put("alice", "Snooze.Until 18:00", "7", `\Seen`)
	e := newTestEngine(gw, now)

	e.Sweep(context.Background(), []string{"alice"})
	e.Sweep(context.Background(), []string{"alice"})

	assert.Equal(t, 1, gw.count("add "))
	tags, _ := gw.tags("alice", "Snooze.Until 18:00", "7")
	assert.Equal(t, []string{`\Seen`, ReleaseTag(at(13, 18, 0))}, tags)
}

func TestAssignSkipsScheduledMessage(t *testing.T) {
	now := time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC)
	gw := newFakeGateway()
	e := newTestEngine(gw, now)
	m := e.NewMessage("alice", hourFolder, MessageRecord{ID: "1", Tags: []string{"moveat99999999999"}})

	assigned, err := e.Assign(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, assigned)
	assert.Empty(t, gw.calls)
}

func TestAssignUnknownFolderIsNoop(t *testing.T) {
	gw := newFakeGateway()
	e := newTestEngine(gw, time.Unix(1700000000, 0))
	m := e.NewMessage("alice", "Snooze.Someday", MessageRecord{ID: "1"})

	assigned, err := e.Assign(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, assigned)
	assert.Empty(t, gw.calls)
}

func TestReleaseGate(t *testing.T) {
	tests := []struct {
		name     string
		now      int64
		released bool
	}{
		{"before", 999999999, false},
		{"exactly at", 1000000000, false},
		{"after", 1000000001, true},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			gw := newFakeGateway()
			gw.put("alice", hourFolder, "5", "MoveAt1000000000")
			e := newTestEngine(gw, time.Unix(tc.now, 0))

			rep := e.Sweep(context.Background(), []string{"alice"})
			assert.Equal(t, 0, rep.Assigned)
			if !tc.released {
				assert.Equal(t, 0, rep.Released)
				assert.Zero(t, gw.count("remove "))
				assert.Zero(t, gw.count("move "))
				return
			}
			assert.Equal(t, 1, rep.Released)
			_, ok := gw.tags("alice", "INBOX", "5")
			assert.True(t, ok)
		})
	}
}

func TestFreshTagIsNotReleasedInSameSweep(t *testing.T) {
	now := time.Date(2024, time.March, 15, 23, 59, 59, 0, time.UTC)
	gw := newFakeGateway()
	for _, folder := range Folders(DefaultRoot) {
		gw.put("alice", folder, "1")
	}

	rep := newTestEngine(gw, now).Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 5, rep.Assigned)
	assert.Equal(t, 0, rep.Released)
	assert.Zero(t, gw.count("move "))
}

func TestReleaseAttemptsMoveWhenRemoveFails(t *testing.T) {
	gw := newFakeGateway()
	gw.put("alice", hourFolder, "5", "MoveAt100")
	gw.rmErr = errors.New("exit status 75")
	e := newTestEngine(gw, time.Unix(200, 0))

	rep := e.Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Released)
	assert.Equal(t, 1, gw.count("move "))
	_, ok := gw.tags("alice", "INBOX", "5")
	assert.True(t, ok)
}

func TestGatewayFailureContinuesWithNextMessage(t *testing.T) {
	gw := newFakeGateway()
	gw.put("alice", hourFolder, "1")
	gw.put("alice", hourFolder, "2")
	gw.addErr = errors.New("exit status 68")
	e := newTestEngine(gw, time.Unix(1700000000, 0))

	rep := e.Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 2, gw.count("add "))
	assert.Empty(t, rep.UserErrors)
	assert.Equal(t, 5, rep.Folders)
}

func TestFetchFailureAbandonsOnlyThatUser(t *testing.T) {
	gw := newFakeGateway()
	gw.fetchErr["bob"] = errors.New("user doesn't exist")
	gw.put("alice", hourFolder, "1")
	e := newTestEngine(gw, time.Unix(1700000000, 0))

	rep := e.Sweep(context.Background(), []string{"bob", "alice"})
	assert.Equal(t, 2, rep.Users)
	require.Contains(t, rep.UserErrors, "bob")
	assert.Equal(t, 1, gw.count("fetch bob "))
	assert.Equal(t, 5, gw.count("fetch alice "))
	assert.Equal(t, 1, rep.Assigned)
	assert.False(t, rep.OK())
}

func TestPanicIsRecoveredPerUser(t *testing.T) {
	gw := newFakeGateway()
	gw.panicFor = "mallory"
	gw.put("alice", hourFolder, "1")
	e := newTestEngine(gw, time.Unix(1700000000, 0))

	rep := e.Sweep(context.Background(), []string{"mallory", "alice"})
	require.Contains(t, rep.UserErrors, "mallory")
	assert.Contains(t, rep.UserErrors["mallory"].Error(), "store exploded")
	assert.Equal(t, 1, rep.Assigned)
}

func TestMalformedReleaseTagIsReported(t *testing.T) {
	gw := newFakeGateway()
	gw.put("alice", hourFolder, "9", "MoveAtnever")
	e := newTestEngine(gw, time.Unix(1700000000, 0))

	rep := e.Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, gw.count("add "))
	assert.Zero(t, gw.count("move "))
}

func TestDryRunWritesNothing(t *testing.T) {
	gw := newFakeGateway()
	gw.put("alice", hourFolder, "1")
	gw.put("alice", "Snooze.Until 7:00", "2", "MoveAt100")
	e := newTestEngine(gw, time.Unix(1700000000, 0))
	e.DryRun = true

	rep := e.Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Assigned)
	assert.Equal(t, 1, rep.Released)
	assert.Zero(t, gw.count("add "))
	assert.Zero(t, gw.count("remove "))
	assert.Zero(t, gw.count("move "))
}

func TestSweepStopsWhenCanceled(t *testing.T) {
	gw := newFakeGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep := newTestEngine(gw, time.Unix(1700000000, 0)).Sweep(ctx, []string{"alice"})
	assert.True(t, rep.Canceled)
	assert.Empty(t, gw.calls)
}

func TestCustomRootAndInbox(t *testing.T) {
	gw := newFakeGateway()
	gw.put("alice", "Later.For 1 Hour", "3", "MoveAt100")
	e := newTestEngine(gw, time.Unix(1700000000, 0))
	e.Root = "Later"
	e.Inbox = "Inbox"

	rep := e.Sweep(context.Background(), []string{"alice"})
	assert.Equal(t, 1, rep.Released)
	assert.Contains(t, gw.calls, "move alice Later.For 1 Hour 3 Inbox")
}

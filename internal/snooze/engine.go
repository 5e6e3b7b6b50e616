package snooze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Engine runs the snooze state machine over the messages a Gateway returns.
type Engine struct {
	Gateway  Gateway
	Log      *slog.Logger
	Clock    func() time.Time
	Location *time.Location
	Root     string
	Inbox    string
	DryRun   bool
}

func NewEngine(gw Gateway, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		Gateway: gw,
		Log:     log,
		Clock:   time.Now,
		Root:    DefaultRoot,
		Inbox:   DefaultInbox,
	}
}

func (e *Engine) now() time.Time {
	clock := e.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := e.Location
	if loc == nil {
		loc = time.Local
	}
	return clock().In(loc)
}

func (e *Engine) root() string {
	if e.Root == "" {
		return DefaultRoot
	}
	return e.Root
}

func (e *Engine) inbox() string {
	if e.Inbox == "" {
		return DefaultInbox
	}
	return e.Inbox
}

// NewMessage builds the sweep view of a fetched record.
func (e *Engine) NewMessage(user, folder string, rec MessageRecord) *Message {
	cat, ok := CategoryForFolder(e.root(), folder)
	return &Message{
		User:     user,
		Folder:   folder,
		ID:       rec.ID,
		Tags:     append([]string(nil), rec.Tags...),
		Category: cat,
		Known:    ok,
	}
}

// Assign tags an unscheduled message with its release instant. It reports
// whether a tag was written.
func (e *Engine) Assign(ctx context.Context, m *Message) (bool, error) {
	if _, scheduled := m.ReleaseTag(); scheduled {
		return false, nil
	}
	if !m.Known {
		return false, nil
	}
	now := e.now()
	at := m.Category.ReleaseAt(now)
	tag := ReleaseTag(at)
	if m.hasTag(tag) {
		return false, nil
	}
	e.Log.Debug("snoozing message", "user", m.User, "folder", m.Folder, "id", m.ID,
		"now", now.Unix(), "until", at.Format(time.DateTime), "tag", tag)
	if e.DryRun {
		e.Log.Info("dry-run: would add release tag", "user", m.User, "folder", m.Folder, "id", m.ID, "tag", tag)
	} else if err := e.Gateway.AddTag(ctx, m.User, m.Folder, m.ID, tag); err != nil {
		return false, fmt.Errorf("add tag %s to %s %q uid %s: %w", tag, m.User, m.Folder, m.ID, err)
	}
	m.Tags = append(m.Tags, tag)
	return true, nil
}

// CheckRelease moves a message whose release tag has elapsed back to the
// inbox. Removing the tag and moving are both attempted; the message counts
// as released only if both succeed.
func (e *Engine) CheckRelease(ctx context.Context, m *Message) (bool, error) {
	tag, scheduled := m.ReleaseTag()
	if !scheduled {
		return false, nil
	}
	ts, err := ParseReleaseTag(tag)
	if err != nil {
		return false, fmt.Errorf("%s %q uid %s: %w", m.User, m.Folder, m.ID, err)
	}
	now := e.now().Unix()
	if ts >= now {
		e.Log.Debug("message still snoozed", "user", m.User, "folder", m.Folder, "id", m.ID, "release_at", ts)
		return false, nil
	}
	e.Log.Debug("moving message back to inbox", "user", m.User, "folder", m.Folder, "id", m.ID, "release_at", ts)
	if e.DryRun {
		e.Log.Info("dry-run: would release message", "user", m.User, "folder", m.Folder, "id", m.ID, "tag", tag)
		return true, nil
	}

	flags := releaseFlags(tag)
	var errs []error
	if err := e.Gateway.RemoveTag(ctx, m.User, m.Folder, m.ID, flags); err != nil {
		errs = append(errs, fmt.Errorf("remove flags %q before move from %s %q uid %s: %w", flags, m.User, m.Folder, m.ID, err))
	}
	if err := e.Gateway.MoveMessage(ctx, m.User, m.Folder, m.ID, e.inbox()); err != nil {
		errs = append(errs, fmt.Errorf("move %s %q uid %s to %s: %w", m.User, m.Folder, m.ID, e.inbox(), err))
	}
	if len(errs) > 0 {
		return false, errors.Join(errs...)
	}
	return true, nil
}

// Process runs assignment and then the release check on one message.
// Failures are logged and counted; they never stop the caller.
func (e *Engine) Process(ctx context.Context, m *Message, rep *Report) {
	assigned, err := e.Assign(ctx, m)
	if err != nil {
		rep.Failed++
		e.Log.Error("set snooze failed", "user", m.User, "folder", m.Folder, "id", m.ID, "error", err)
	} else if assigned {
		rep.Assigned++
	}

	released, err := e.CheckRelease(ctx, m)
	if err != nil {
		rep.Failed++
		e.Log.Error("release failed", "user", m.User, "folder", m.Folder, "id", m.ID, "error", err)
	} else if released {
		rep.Released++
	}
}

// SweepFolder processes every message currently in folder.
func (e *Engine) SweepFolder(ctx context.Context, user, folder string, rep *Report) error {
	if rep == nil {
		rep = &Report{}
	}
	e.Log.Debug("fetching messages", "user", user, "folder", folder)
	records, err := e.Gateway.FetchMessages(ctx, user, folder)
	if err != nil {
		return fmt.Errorf("fetch %s %q: %w", user, folder, err)
	}
	rep.Folders++
	for _, rec := range records {
		rep.Scanned++
		e.Process(ctx, e.NewMessage(user, folder, rec), rep)
	}
	return nil
}

// SweepUser walks every snooze folder of user in order. A fetch failure or
// panic abandons the user's remaining folders.
func (e *Engine) SweepUser(ctx context.Context, user string, rep *Report) (err error) {
	if rep == nil {
		rep = &Report{}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error processing %s: %v", user, r)
		}
	}()
	for _, folder := range Folders(e.root()) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := e.SweepFolder(ctx, user, folder, rep); err != nil {
			return err
		}
	}
	return nil
}

// Sweep runs one pass over all users. It always returns a report; errors are
// recorded per user.
func (e *Engine) Sweep(ctx context.Context, users []string) Report {
	started := e.Clock
	if started == nil {
		started = time.Now
	}
	rep := Report{Started: started()}
	for _, user := range users {
		if ctx.Err() != nil {
			rep.Canceled = true
			break
		}
		rep.Users++
		if err := e.SweepUser(ctx, user, &rep); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rep.Canceled = true
				break
			}
			rep.addUserError(user, err)
			e.Log.Error("unexpected error", "user", user, "error", err)
		}
	}
	return rep
}

// Package doveadm implements the snooze gateway by invoking the dovecot
// administration binary once per operation.
package doveadm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"mailsnooze/internal/snooze"
)

const DefaultPath = "/usr/bin/doveadm"

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

type Gateway struct {
	Path   string
	Runner Runner
	Log    *slog.Logger
}

func NewGateway(path string, log *slog.Logger) *Gateway {
	if path == "" {
		path = DefaultPath
	}
	return &Gateway{Path: path, Runner: execRunner{}, Log: log}
}

// CommandError carries the command line of a failed doveadm call.
type CommandError struct {
	Args []string
	Err  error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (g *Gateway) run(ctx context.Context, args ...string) ([]byte, error) {
	runner := g.Runner
	if runner == nil {
		runner = execRunner{}
	}
	if g.Log != nil {
		g.Log.Debug("doveadm", "cmd", g.Path+" "+strings.Join(args, " "))
	}
	out, err := runner.Run(ctx, g.Path, args...)
	if err != nil {
		return out, &CommandError{Args: append([]string{g.Path}, args...), Err: err}
	}
	return out, nil
}

func (g *Gateway) FetchMessages(ctx context.Context, user, folder string) ([]snooze.MessageRecord, error) {
	out, err := g.run(ctx, "fetch", "-u", user, "uid flags", "mailbox", folder, "UNDELETED")
	if err != nil {
		return nil, err
	}
	return ParseFetch(out), nil
}

func (g *Gateway) AddTag(ctx context.Context, user, folder, id, tag string) error {
	_, err := g.run(ctx, "flags", "add", "-u", user, tag, "mailbox", folder, "uid", id)
	return err
}

func (g *Gateway) RemoveTag(ctx context.Context, user, folder, id, tag string) error {
	_, err := g.run(ctx, "flags", "remove", "-u", user, tag, "mailbox", folder, "uid", id)
	return err
}

func (g *Gateway) MoveMessage(ctx context.Context, user, folder, id, dest string) error {
	_, err := g.run(ctx, "move", "-u", user, dest, "mailbox", folder, "uid", id)
	return err
}

// CreateFolder creates and subscribes folder for user. An existing folder is
// only subscribed.
func (g *Gateway) CreateFolder(ctx context.Context, user, folder string) error {
	_, err := g.run(ctx, "mailbox", "create", "-s", "-u", user, folder)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		_, err = g.run(ctx, "mailbox", "subscribe", "-u", user, folder)
	}
	return err
}

// ParseFetch reads the "uid:" and "flags:" lines of doveadm fetch output.
// Each uid line starts a new record; a flags line applies to the latest one.
func ParseFetch(out []byte) []snooze.MessageRecord {
	var (
		records []snooze.MessageRecord
		current *snooze.MessageRecord
	)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), "\f")
		if value, ok := field(line, "uid"); ok {
			if current != nil {
				records = append(records, *current)
			}
			current = &snooze.MessageRecord{ID: strings.TrimSpace(value)}
			continue
		}
		if value, ok := field(line, "flags"); ok && current != nil {
			current.Tags = strings.Fields(value)
		}
	}
	if current != nil {
		records = append(records, *current)
	}
	return records
}

func field(line, name string) (string, bool) {
	prefix := name + ":"
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return "", false
	}
	return line[len(prefix):], true
}

var (
	_ snooze.Gateway       = (*Gateway)(nil)
	_ snooze.FolderCreator = (*Gateway)(nil)
)

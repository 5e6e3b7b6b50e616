package snooze

import (
	"log/slog"
	"time"
)

// Report summarises one sweep.
type Report struct {
	Started    time.Time
	Users      int
	Folders    int
	Scanned    int
	Assigned   int
	Released   int
	Failed     int
	UserErrors map[string]error
	Canceled   bool
}

func (r *Report) addUserError(user string, err error) {
	if r.UserErrors == nil {
		r.UserErrors = map[string]error{}
	}
	r.UserErrors[user] = err
}

// OK reports whether the sweep finished without any failure.
func (r Report) OK() bool {
	return r.Failed == 0 && len(r.UserErrors) == 0 && !r.Canceled
}

func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("users", r.Users),
		slog.Int("folders", r.Folders),
		slog.Int("scanned", r.Scanned),
		slog.Int("assigned", r.Assigned),
		slog.Int("released", r.Released),
		slog.Int("failed", r.Failed),
		slog.Int("user_errors", len(r.UserErrors)),
		slog.Bool("canceled", r.Canceled),
	)
}

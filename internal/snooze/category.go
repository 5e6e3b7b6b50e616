package snooze

import (
	"strings"
	"time"
)

// Separator is the mailbox hierarchy character between the snooze root and
// the category suffix. It is not configurable.
const Separator = "."

// DefaultRoot is the name of the parent snooze mailbox.
const DefaultRoot = "Snooze"

// Category is one of the fixed deferral policies a snooze folder encodes.
type Category int

const (
	UntilFriday Category = iota
	UntilMonday
	UntilMorning
	UntilEvening
	ForOneHour
)

type rule func(now time.Time) time.Time

type categoryDef struct {
	suffix  string
	release rule
}

// categories is ordered the way folders are scanned.
var categories = []categoryDef{
	UntilFriday:  {suffix: "Until Friday 18:00", release: nextWeekday(4, 18)},
	UntilMonday:  {suffix: "Until Monday 7:00", release: nextWeekday(0, 7)},
	UntilMorning: {suffix: "Until 7:00", release: nextHour(7)},
	UntilEvening: {suffix: "Until 18:00", release: nextHour(18)},
	ForOneHour:   {suffix: "For 1 Hour", release: func(now time.Time) time.Time { return now.Add(time.Hour) }},
}

// Categories returns every category in scan order.
func Categories() []Category {
	out := make([]Category, len(categories))
	for i := range categories {
		out[i] = Category(i)
	}
	return out
}

func (c Category) valid() bool { return c >= 0 && int(c) < len(categories) }

// Suffix is the folder name component following the snooze root.
func (c Category) Suffix() string {
	if !c.valid() {
		return ""
	}
	return categories[c].suffix
}

func (c Category) String() string { return c.Suffix() }

// Folder returns the full mailbox name of the category under root.
func (c Category) Folder(root string) string {
	return root + Separator + c.Suffix()
}

// ReleaseAt computes the instant a message filed into the category at now
// goes back to the inbox. The result is always after now.
func (c Category) ReleaseAt(now time.Time) time.Time {
	if !c.valid() {
		return time.Time{}
	}
	return categories[c].release(now)
}

// Folders lists the snooze folder names under root in scan order.
func Folders(root string) []string {
	out := make([]string, 0, len(categories))
	for _, c := range Categories() {
		out = append(out, c.Folder(root))
	}
	return out
}

// CategoryForFolder resolves a mailbox name to its category. Names outside
// root or with an unknown suffix report ok=false.
func CategoryForFolder(root, folder string) (Category, bool) {
	suffix, found := strings.CutPrefix(folder, root+Separator)
	if !found {
		return 0, false
	}
	for i, def := range categories {
		if def.suffix == suffix {
			return Category(i), true
		}
	}
	return 0, false
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekday numbers days Monday=0 .. Sunday=6.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func atHour(day time.Time, days, hour int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+days, hour, 0, 0, 0, day.Location())
}

// nextHour is today at hour, or tomorrow when that has already passed.
func nextHour(hour int) rule {
	return func(now time.Time) time.Time {
		at := atHour(midnight(now), 0, hour)
		if !at.After(now) {
			at = atHour(midnight(now), 1, hour)
		}
		return at
	}
}

// nextWeekday is target (Monday=0) at hour, strictly after today.
func nextWeekday(target, hour int) rule {
	return func(now time.Time) time.Time {
		today := midnight(now)
		days := target - weekday(today)
		if days < 1 {
			days += 7
		}
		return atHour(today, days, hour)
	}
}

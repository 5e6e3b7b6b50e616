package snooze

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TagPrefix starts every release tag. Matching ignores case.
const TagPrefix = "MoveAt"

// SeenFlag is the store's read marker, cleared together with the release tag.
const SeenFlag = `\Seen`

// ReleaseTag formats the tag recording release instant t.
func ReleaseTag(t time.Time) string {
	return fmt.Sprintf("%s%d", TagPrefix, t.Unix())
}

// IsReleaseTag reports whether tag carries the release prefix, regardless of
// whether its timestamp parses.
func IsReleaseTag(tag string) bool {
	return len(tag) >= len(TagPrefix) && strings.EqualFold(tag[:len(TagPrefix)], TagPrefix)
}

// ParseReleaseTag extracts the unix timestamp from a release tag.
func ParseReleaseTag(tag string) (int64, error) {
	if !IsReleaseTag(tag) {
		return 0, fmt.Errorf("tag %q is not a release tag", tag)
	}
	ts, err := strconv.ParseInt(tag[len(TagPrefix):], 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("tag %q has an invalid timestamp", tag)
	}
	return ts, nil
}

// releaseFlags is the combined removal request for the release transition.
func releaseFlags(tag string) string {
	return SeenFlag + " " + tag
}

package snooze

import "context"

// DefaultInbox is where released messages are moved.
const DefaultInbox = "INBOX"

// MessageRecord is one message as returned by a fetch.
type MessageRecord struct {
	ID   string
	Tags []string
}

// Gateway is the mail store surface the engine needs. Every call is scoped
// to a single user and folder.
type Gateway interface {
	// FetchMessages lists every undeleted message in folder with its tags.
	FetchMessages(ctx context.Context, user, folder string) ([]MessageRecord, error)
	AddTag(ctx context.Context, user, folder, id, tag string) error
	// RemoveTag removes the whitespace separated flags in tag.
	RemoveTag(ctx context.Context, user, folder, id, tag string) error
	MoveMessage(ctx context.Context, user, folder, id, dest string) error
}

// FolderCreator is implemented by gateways that can provision the snooze
// folders for a user.
type FolderCreator interface {
	CreateFolder(ctx context.Context, user, folder string) error
}

// Message is the per-sweep view of a message in a snooze folder.
type Message struct {
	User     string
	Folder   string
	ID       string
	Tags     []string
	Category Category
	// Known is false when Folder does not map to a category.
	Known bool
}

// ReleaseTag returns the first release tag on the message, if any.
func (m *Message) ReleaseTag() (string, bool) {
	for _, tag := range m.Tags {
		if IsReleaseTag(tag) {
			return tag, true
		}
	}
	return "", false
}

func (m *Message) hasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Package imap implements the snooze gateway over IMAP, acting on each
// mailbox through a dovecot master user login.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mailsnooze/internal/config"
	"mailsnooze/internal/snooze"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

type Client interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Create(name string) error
	Subscribe(name string) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	UidMove(seqset *imap.SeqSet, mailbox string) error
	UidCopy(seqset *imap.SeqSet, mailbox string) error
	Expunge(ch chan uint32) error
}

type Service struct {
	Config    config.Config
	Connector func(cfg config.Config, user string) (Client, error)
}

func NewService(cfg config.Config) *Service {
	return &Service{Config: cfg, Connector: Connect}
}

// Connect dials the configured server and logs in on behalf of user.
func Connect(cfg config.Config, user string) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAP.Host, cfg.IMAP.Port)
	tlsConfig := &tls.Config{
		ServerName:         cfg.IMAP.Host,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if cfg.IMAP.TLS {
		c, err = imapclient.DialTLS(addr, tlsConfig)
	} else {
		c, err = imapclient.Dial(addr)
		if err == nil && cfg.IMAP.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if err := c.Login(cfg.Auth.LoginName(user), cfg.Auth.Password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("login as %s: %w", user, err)
	}

	return c, nil
}

func (s *Service) withClient(ctx context.Context, user string, fn func(Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}
	client, err := connector(s.Config, user)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Logout()
	}()
	return fn(client)
}

func uidSet(id string) (*imap.SeqSet, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("invalid uid: %s", id)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	return seqset, nil
}

func (s *Service) FetchMessages(ctx context.Context, user, folder string) ([]snooze.MessageRecord, error) {
	var records []snooze.MessageRecord
	err := s.withClient(ctx, user, func(c Client) error {
		if _, err := c.Select(folder, true); err != nil {
			return err
		}

		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.DeletedFlag}
		uids, err := c.UidSearch(criteria)
		if err != nil {
			return err
		}
		if len(uids) == 0 {
			return nil
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}
		ch := make(chan *imap.Message, len(uids))
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, ch)
		}()
		for msg := range ch {
			if msg == nil || msg.Uid == 0 {
				continue
			}
			records = append(records, snooze.MessageRecord{
				ID:   strconv.FormatUint(uint64(msg.Uid), 10),
				Tags: append([]string(nil), msg.Flags...),
			})
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		a, _ := strconv.ParseUint(records[i].ID, 10, 32)
		b, _ := strconv.ParseUint(records[j].ID, 10, 32)
		return a < b
	})
	return records, nil
}

func (s *Service) storeFlags(ctx context.Context, user, folder, id string, op imap.FlagsOp, flags []string) error {
	seqset, err := uidSet(id)
	if err != nil {
		return err
	}
	return s.withClient(ctx, user, func(c Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return err
		}
		values := make([]interface{}, 0, len(flags))
		for _, f := range flags {
			values = append(values, f)
		}
		item := imap.FormatFlagsOp(op, true)
		return c.UidStore(seqset, item, values, nil)
	})
}

func (s *Service) AddTag(ctx context.Context, user, folder, id, tag string) error {
	return s.storeFlags(ctx, user, folder, id, imap.AddFlags, []string{tag})
}

// RemoveTag removes each whitespace separated flag in tag in one STORE.
func (s *Service) RemoveTag(ctx context.Context, user, folder, id, tag string) error {
	flags := strings.Fields(tag)
	if len(flags) == 0 {
		return nil
	}
	return s.storeFlags(ctx, user, folder, id, imap.RemoveFlags, flags)
}

func (s *Service) MoveMessage(ctx context.Context, user, folder, id, dest string) error {
	seqset, err := uidSet(id)
	if err != nil {
		return err
	}
	return s.withClient(ctx, user, func(c Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return err
		}
		if err := c.UidMove(seqset, dest); err == nil {
			return nil
		}
		if err := c.UidCopy(seqset, dest); err != nil {
			return err
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		expunge := make(chan uint32)
		done := make(chan error, 1)
		go func() {
			done <- c.Expunge(expunge)
		}()
		for range expunge {
		}
		return <-done
	})
}

// CreateFolder creates folder if needed and subscribes user to it.
func (s *Service) CreateFolder(ctx context.Context, user, folder string) error {
	return s.withClient(ctx, user, func(c Client) error {
		if err := c.Create(folder); err != nil && !strings.Contains(strings.ToUpper(err.Error()), "ALREADYEXISTS") {
			return err
		}
		return c.Subscribe(folder)
	})
}

var (
	_ snooze.Gateway       = (*Service)(nil)
	_ snooze.FolderCreator = (*Service)(nil)
)

package store

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/Guizzs26/live_poll_tally/internal/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidInput = errors.New("invalid input")
)

const DefaultLimit = 100

// Page selects a window of a list, in creation order.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// Store is the durable home of users, polls and options. The tally engine
// only reads from it.
type Store interface {
	CreateUser(ctx context.Context, u model.NewUser) (model.User, error)
	FindUser(ctx context.Context, id string) (model.User, error)
	ListUsers(ctx context.Context, page Page) ([]model.User, error)

	CreatePoll(ctx context.Context, creatorID string, p model.NewPoll) (model.Poll, error)
	FindPoll(ctx context.Context, id string) (model.Poll, error)
	ListPolls(ctx context.Context, page Page, publishedOnly bool) ([]model.Poll, error)
	FindOption(ctx context.Context, id string) (model.Option, error)
	SetPublished(ctx context.Context, pollID string, published bool) (model.Poll, error)

	Close() error
}

// Open returns the store for driver. memory needs no dsn.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewGormStore(ctx, dsn)
	case "sqlite", "mysql":
		return NewSQLStore(ctx, driver, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func validateUser(u model.NewUser) (model.NewUser, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(u.Email)
	if u.Name == "" {
		return u, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(u.Email)
	if err != nil || addr.Address != u.Email {
		return u, fmt.Errorf("%w: email %q is not valid", ErrInvalidInput, u.Email)
	}
	u.Email = strings.ToLower(u.Email)
	return u, nil
}

func validatePoll(p model.NewPoll) (model.NewPoll, error) {
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" {
		return p, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	if len(p.Options) < 2 {
		return p, fmt.Errorf("%w: a poll needs at least two options", ErrInvalidInput)
	}
	opts := make([]model.NewOption, len(p.Options))
	for i, o := range p.Options {
		o.Text = strings.TrimSpace(o.Text)
		if o.Text == "" {
			return p, fmt.Errorf("%w: option %d has no text", ErrInvalidInput, i+1)
		}
		opts[i] = o
	}
	p.Options = opts
	return p, nil
}

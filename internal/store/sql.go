package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

// Both dialects accept this DDL. Timestamps are unix nanoseconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(36) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS polls (
		id VARCHAR(36) PRIMARY KEY,
		question TEXT NOT NULL,
		is_published BOOLEAN NOT NULL DEFAULT FALSE,
		creator_id VARCHAR(36) NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS poll_options (
		id VARCHAR(36) PRIMARY KEY,
		poll_id VARCHAR(36) NOT NULL,
		label VARCHAR(500) NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		poll_id VARCHAR(36) NOT NULL,
		user_id VARCHAR(36) NOT NULL,
		option_id VARCHAR(36) NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (poll_id, user_id)
	)`,
}

// SQLStore keeps users, polls and the vote ledger in SQLite or MySQL through
// database/sql. MySQL DSNs follow go-sql-driver/mysql; SQLite DSNs are file
// paths.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is required", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// one writer at a time; SQLite would answer SQLITE_BUSY otherwise
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create %s schema: %w", driver, err)
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, nu model.NewUser) (model.User, error) {
	nu, err := validateUser(nu)
	if err != nil {
		return model.User{}, err
	}

	u := model.User{ID: uuid.NewString(), Name: nu.Name, Email: nu.Email, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)",
		u.ID, u.Name, u.Email, u.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &created); err != nil {
		return model.User{}, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

func (s *SQLStore) FindUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT id, name, email, created_at FROM users WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user %s: %w", id, err)
	}
	return u, nil
}

func (s *SQLStore) ListUsers(ctx context.Context, page Page) ([]model.User, error) {
	page = page.normalize()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM users ORDER BY created_at, id LIMIT ? OFFSET ?",
		page.Limit, page.Skip,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreatePoll(ctx context.Context, creatorID string, np model.NewPoll) (model.Poll, error) {
	np, err := validatePoll(np)
	if err != nil {
		return model.Poll{}, err
	}
	if _, err := s.FindUser(ctx, creatorID); err != nil {
		return model.Poll{}, err
	}

	now := time.Now().UTC()
	p := model.Poll{
		ID:          uuid.NewString(),
		Question:    np.Question,
		IsPublished: np.IsPublished,
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Options:     make([]model.Option, 0, len(np.Options)),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Poll{}, fmt.Errorf("begin create poll: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO polls (id, question, is_published, creator_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Question, p.IsPublished, p.CreatorID, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return model.Poll{}, fmt.Errorf("insert poll: %w", err)
	}

	for i, o := range np.Options {
		opt := model.Option{ID: uuid.NewString(), PollID: p.ID, Text: o.Text}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO poll_options (id, poll_id, label, position) VALUES (?, ?, ?, ?)",
			opt.ID, opt.PollID, opt.Text, i,
		)
		if err != nil {
			return model.Poll{}, fmt.Errorf("insert poll option: %w", err)
		}
		p.Options = append(p.Options, opt)
	}

	if err := tx.Commit(); err != nil {
		return model.Poll{}, fmt.Errorf("commit create poll: %w", err)
	}
	return p, nil
}

func (s *SQLStore) loadOptions(ctx context.Context, p *model.Poll) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id, poll_id, label FROM poll_options WHERE poll_id = ? ORDER BY position", p.ID)
	if err != nil {
		return fmt.Errorf("load options for poll %s: %w", p.ID, err)
	}
	defer rows.Close()

	p.Options = []model.Option{}
	for rows.Next() {
		var o model.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text); err != nil {
			return fmt.Errorf("scan option: %w", err)
		}
		p.Options = append(p.Options, o)
	}
	return rows.Err()
}

const pollColumns = "id, question, is_published, creator_id, created_at, updated_at"

func scanPoll(row scanner) (model.Poll, error) {
	var (
		p                model.Poll
		created, updated int64
	)
	if err := row.Scan(&p.ID, &p.Question, &p.IsPublished, &p.CreatorID, &created, &updated); err != nil {
		return model.Poll{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func (s *SQLStore) FindPoll(ctx context.Context, id string) (model.Poll, error) {
	p, err := scanPoll(s.db.QueryRowContext(ctx, "SELECT "+pollColumns+" FROM polls WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Poll{}, ErrNotFound
	}
	if err != nil {
		return model.Poll{}, fmt.Errorf("find poll %s: %w", id, err)
	}
	if err := s.loadOptions(ctx, &p); err != nil {
		return model.Poll{}, err
	}
	return p, nil
}

func (s *SQLStore) ListPolls(ctx context.Context, page Page, publishedOnly bool) ([]model.Poll, error) {
	page = page.normalize()

	query := "SELECT " + pollColumns + " FROM polls"
	args := []any{}
	if publishedOnly {
		query += " WHERE is_published = ?"
		args = append(args, true)
	}
	query += " ORDER BY created_at, id LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	polls := []model.Poll{}
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		polls = append(polls, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	// options are loaded after the cursor is closed: sqlite runs on one connection
	for i := range polls {
		if err := s.loadOptions(ctx, &polls[i]); err != nil {
			return nil, err
		}
	}
	return polls, nil
}

func (s *SQLStore) FindOption(ctx context.Context, id string) (model.Option, error) {
	var o model.Option
	err := s.db.QueryRowContext(ctx, "SELECT id, poll_id, label FROM poll_options WHERE id = ?", id).Scan(&o.ID, &o.PollID, &o.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Option{}, ErrNotFound
	}
	if err != nil {
		return model.Option{}, fmt.Errorf("find option %s: %w", id, err)
	}
	return o, nil
}

func (s *SQLStore) SetPublished(ctx context.Context, pollID string, published bool) (model.Poll, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE polls SET is_published = ?, updated_at = ? WHERE id = ?",
		published, time.Now().UTC().UnixNano(), pollID,
	)
	if err != nil {
		return model.Poll{}, fmt.Errorf("publish poll %s: %w", pollID, err)
	}
	// MySQL reports zero affected rows when nothing changed, so existence is checked by reading back
	if n, err := res.RowsAffected(); err == nil && n == 0 && s.driver != "mysql" {
		return model.Poll{}, ErrNotFound
	}
	return s.FindPoll(ctx, pollID)
}

// AppendVote implements tally.Ledger on the votes table.
func (s *SQLStore) AppendVote(ctx context.Context, v model.Vote) (bool, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO votes (poll_id, user_id, option_id, created_at) VALUES (?, ?, ?, ?)",
		v.PollID, v.UserID, v.OptionID, v.Timestamp.UnixNano(),
	)
	if err != nil {
		if isDuplicate(err) {
			return false, nil
		}
		return false, fmt.Errorf("append vote: %w", err)
	}
	return true, nil
}

// LoadTally implements tally.Ledger.
func (s *SQLStore) LoadTally(ctx context.Context, pollID string) (tally.LedgerState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT user_id, option_id FROM votes WHERE poll_id = ?", pollID)
	if err != nil {
		return tally.LedgerState{}, fmt.Errorf("load votes for poll %s: %w", pollID, err)
	}
	defer rows.Close()

	state := tally.LedgerState{Counts: make(map[string]int)}
	for rows.Next() {
		var userID, optionID string
		if err := rows.Scan(&userID, &optionID); err != nil {
			return tally.LedgerState{}, fmt.Errorf("scan vote: %w", err)
		}
		state.Counts[optionID]++
		state.Voters = append(state.Voters, userID)
	}
	return state, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Guizzs26/live_poll_tally/internal/model"
	"github.com/Guizzs26/live_poll_tally/internal/tally"
)

type userRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:255;not null"`
	Email     string    `gorm:"size:255;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) toModel() model.User {
	return model.User{ID: r.ID, Name: r.Name, Email: r.Email, CreatedAt: r.CreatedAt.UTC()}
}

type pollRow struct {
	ID          string      `gorm:"primaryKey;size:36"`
	Question    string      `gorm:"type:text;not null"`
	IsPublished bool        `gorm:"not null;default:false;index"`
	CreatorID   string      `gorm:"size:36;not null;index"`
	CreatedAt   time.Time   `gorm:"not null"`
	UpdatedAt   time.Time   `gorm:"not null"`
	Options     []optionRow `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE"`
}

func (pollRow) TableName() string { return "polls" }

func (r pollRow) toModel() model.Poll {
	p := model.Poll{
		ID:          r.ID,
		Question:    r.Question,
		IsPublished: r.IsPublished,
		CreatorID:   r.CreatorID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		Options:     make([]model.Option, 0, len(r.Options)),
	}
	for _, o := range r.Options {
		p.Options = append(p.Options, o.toModel())
	}
	return p
}

type optionRow struct {
	ID       string `gorm:"primaryKey;size:36"`
	PollID   string `gorm:"size:36;not null;index"`
	Label    string `gorm:"size:500;not null"`
	Position int    `gorm:"not null"`
}

func (optionRow) TableName() string { return "poll_options" }

func (r optionRow) toModel() model.Option {
	return model.Option{ID: r.ID, PollID: r.PollID, Text: r.Label}
}

type voteRow struct {
	PollID    string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36"`
	OptionID  string    `gorm:"size:36;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (voteRow) TableName() string { return "votes" }

// GormStore keeps users, polls and the vote ledger in PostgreSQL.
type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(ctx context.Context, dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&userRow{}, &pollRow{}, &optionRow{}, &voteRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) CreateUser(ctx context.Context, nu model.NewUser) (model.User, error) {
	nu, err := validateUser(nu)
	if err != nil {
		return model.User{}, err
	}

	row := userRow{ID: uuid.NewString(), Name: nu.Name, Email: nu.Email, CreatedAt: time.Now().UTC()}
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return row.toModel(), nil
}

func (s *GormStore) FindUser(ctx context.Context, id string) (model.User, error) {
	var row userRow
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("find user %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) ListUsers(ctx context.Context, page Page) ([]model.User, error) {
	page = page.normalize()

	var rows []userRow
	err := s.DB.WithContext(ctx).
		Order("created_at, id").
		Offset(page.Skip).
		Limit(page.Limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) CreatePoll(ctx context.Context, creatorID string, np model.NewPoll) (model.Poll, error) {
	np, err := validatePoll(np)
	if err != nil {
		return model.Poll{}, err
	}
	if _, err := s.FindUser(ctx, creatorID); err != nil {
		return model.Poll{}, err
	}

	now := time.Now().UTC()
	row := pollRow{
		ID:          uuid.NewString(),
		Question:    np.Question,
		IsPublished: np.IsPublished,
		CreatorID:   creatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, o := range np.Options {
		row.Options = append(row.Options, optionRow{ID: uuid.NewString(), PollID: row.ID, Label: o.Text, Position: i})
	}

	// Create saves the options association in the same transaction
	if err := s.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Poll{}, fmt.Errorf("create poll: %w", err)
	}
	return row.toModel(), nil
}

func (s *GormStore) preloadOptions(db *gorm.DB) *gorm.DB {
	return db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position")
	})
}

func (s *GormStore) FindPoll(ctx context.Context, id string) (model.Poll, error) {
	var row pollRow
	err := s.preloadOptions(s.DB.WithContext(ctx)).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Poll{}, ErrNotFound
		}
		return model.Poll{}, fmt.Errorf("find poll %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) ListPolls(ctx context.Context, page Page, publishedOnly bool) ([]model.Poll, error) {
	page = page.normalize()

	tx := s.preloadOptions(s.DB.WithContext(ctx))
	if publishedOnly {
		tx = tx.Where("is_published = ?", true)
	}

	var rows []pollRow
	if err := tx.Order("created_at, id").Offset(page.Skip).Limit(page.Limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}

	out := make([]model.Poll, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *GormStore) FindOption(ctx context.Context, id string) (model.Option, error) {
	var row optionRow
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Option{}, ErrNotFound
		}
		return model.Option{}, fmt.Errorf("find option %s: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *GormStore) SetPublished(ctx context.Context, pollID string, published bool) (model.Poll, error) {
	res := s.DB.WithContext(ctx).
		Model(&pollRow{}).
		Where("id = ?", pollID).
		Updates(map[string]any{"is_published": published, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return model.Poll{}, fmt.Errorf("publish poll %s: %w", pollID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Poll{}, ErrNotFound
	}
	return s.FindPoll(ctx, pollID)
}

// AppendVote implements tally.Ledger on the votes table.
func (s *GormStore) AppendVote(ctx context.Context, v model.Vote) (bool, error) {
	row := voteRow{PollID: v.PollID, UserID: v.UserID, OptionID: v.OptionID, CreatedAt: v.Timestamp}
	create := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, fmt.Errorf("append vote: %w", create.Error)
	}
	return create.RowsAffected == 1, nil
}

// LoadTally implements tally.Ledger.
func (s *GormStore) LoadTally(ctx context.Context, pollID string) (tally.LedgerState, error) {
	var counts []struct {
		OptionID string
		Count    int
	}
	err := s.DB.WithContext(ctx).
		Model(&voteRow{}).
		Select("option_id, COUNT(*) AS count").
		Where("poll_id = ?", pollID).
		Group("option_id").
		Scan(&counts).
		Error
	if err != nil {
		return tally.LedgerState{}, fmt.Errorf("load counts for poll %s: %w", pollID, err)
	}

	var voters []string
	if err := s.DB.WithContext(ctx).Model(&voteRow{}).Where("poll_id = ?", pollID).Pluck("user_id", &voters).Error; err != nil {
		return tally.LedgerState{}, fmt.Errorf("load voters for poll %s: %w", pollID, err)
	}

	state := tally.LedgerState{Counts: make(map[string]int, len(counts)), Voters: voters}
	for _, c := range counts {
		state.Counts[c.OptionID] = c.Count
	}
	return state, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package model

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type NewUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Option struct {
	ID     string `json:"id"`
	PollID string `json:"poll_id"`
	Text   string `json:"text"`
}

type Poll struct {
	ID          string    `json:"id"`
	Question    string    `json:"question"`
	IsPublished bool      `json:"is_published"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Options     []Option  `json:"options"`
}

// OptionIDs returns the poll's option ids in display order.
func (p Poll) OptionIDs() []string {
	ids := make([]string, 0, len(p.Options))
	for _, o := range p.Options {
		ids = append(ids, o.ID)
	}
	return ids
}

// HasOption reports whether optionID belongs to the poll.
func (p Poll) HasOption(optionID string) bool {
	for _, o := range p.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

type NewOption struct {
	Text string `json:"text"`
}

type NewPoll struct {
	Question    string      `json:"question"`
	Options     []NewOption `json:"options"`
	IsPublished bool        `json:"is_published"`
}

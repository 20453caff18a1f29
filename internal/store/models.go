package store

import "time"

type Bookmark struct {
	ID         string
	Owner      string
	QuestionID string
	CreatedAt  time.Time
}

// Collection is a named set of bookmarked-question references owned by one
// user. Exactly one collection per owner carries IsDefault; the store enforces
// that with a partial unique index.
type Collection struct {
	ID        string
	Owner     string
	Name      string
	IsDefault bool
	Bookmarks []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ThemeVote carries the post-update membership sets for one theme. A username
// appears in at most one of the two sets; the theme_votes primary key makes
// that structural rather than something update ordering has to preserve.
type ThemeVote struct {
	Theme     string
	UpVotes   []string
	DownVotes []string
}

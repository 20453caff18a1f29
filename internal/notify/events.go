// Package notify publishes post-commit events to subscribers over Redis
// pub/sub. Delivery is fire-and-forget: the core produces a payload and hands
// it off; subscriber lifecycles and redelivery are someone else's problem.
package notify

// Event is a payload with a wire kind. Kinds are part of the client protocol.
type Event interface {
	Kind() string
}

type BookmarkAdded struct {
	QuestionID string `json:"questionId"`
	Username   string `json:"username"`
}

func (BookmarkAdded) Kind() string { return "bookmarkAdded" }

type BookmarkRemoved struct {
	QuestionID string `json:"questionId"`
	Username   string `json:"username"`
}

func (BookmarkRemoved) Kind() string { return "bookmarkRemoved" }

type ThemeVoteUpdate struct {
	Theme     string   `json:"theme"`
	UpVotes   []string `json:"upVotes"`
	DownVotes []string `json:"downVotes"`
}

func (ThemeVoteUpdate) Kind() string { return "themeVoteUpdate" }

package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"

	"quorum/api/internal/config"
	"quorum/api/internal/store"
	"quorum/api/internal/util"
)

// DefaultCollectionName is the display name given to the system-managed
// collection that mirrors a user's full bookmark set.
const DefaultCollectionName = "All Bookmarks"

const (
	VoteUp   = "upvote"
	VoteDown = "downvote"
)

var allowedVoteTypes = map[string]struct{}{
	VoteUp:   {},
	VoteDown: {},
}

// MembershipResult is the outcome of an add-bookmark-to-collection call.
// AlreadyExists marks the duplicate-add case: not an error, but a no-op the
// caller must not announce as a fresh addition.
type MembershipResult struct {
	Collection    store.Collection
	AlreadyExists bool
}

// ThemeVoteResult is the post-toggle snapshot for one theme. Message names
// the transition that occurred, derived from the returned sets rather than
// from the requested vote type alone.
type ThemeVoteResult struct {
	Theme     string
	UpVotes   []string
	DownVotes []string
	Message   string
}

type dataStore interface {
	InsertBookmark(context.Context, store.Bookmark) (store.Bookmark, error)
	ListBookmarks(context.Context, string) ([]store.Bookmark, error)
	DeleteBookmark(context.Context, string, string) (store.Bookmark, error)
	EnsureDefaultCollection(context.Context, string, string, string) (store.Collection, error)
	InsertCollection(context.Context, store.Collection) (store.Collection, error)
	ListCollections(context.Context, string) ([]store.Collection, error)
	GetCollection(context.Context, string, string) (store.Collection, error)
	GetCollectionByID(context.Context, string) (store.Collection, error)
	RenameCollection(context.Context, string, string, string) (bool, error)
	DeleteCollection(context.Context, string, string) (bool, error)
	AddCollectionItem(context.Context, string, string) (bool, error)
	RemoveCollectionItem(context.Context, string, string) error
	RemoveDefaultCollectionItem(context.Context, string, string) error
	EnsureTheme(context.Context, string) error
	ToggleThemeVote(context.Context, string, string, string) error
	GetThemeVote(context.Context, string) (store.ThemeVote, error)
	ListThemeVotes(context.Context) ([]store.ThemeVote, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg   config.Config
	store dataStore
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{cfg: cfg, store: dataStore}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateBookmark inserts the bookmark record and then mirrors it into the
// owner's default collection. The two writes are sequential and
// non-transactional: a failed mirror is logged and swallowed because the
// default collection is derived state that GetOrCreateDefault rebuilds on the
// next read, and failing the whole action would lose the primary record.
func (s *Service) CreateBookmark(ctx context.Context, owner, questionID string) (store.Bookmark, error) {
	owner = strings.TrimSpace(owner)
	questionID = strings.TrimSpace(questionID)
	if owner == "" {
		return store.Bookmark{}, validationError("username is required")
	}
	if questionID == "" {
		return store.Bookmark{}, validationError("questionId is required")
	}

	item, err := s.store.InsertBookmark(ctx, store.Bookmark{
		ID:         util.NewID("bm"),
		Owner:      owner,
		QuestionID: questionID,
	})
	if err != nil {
		return store.Bookmark{}, err
	}

	if err := s.addToDefaultCollection(ctx, owner, questionID); err != nil {
		log.Printf("default collection sync (add) for %s: %v", owner, err)
	}
	return item, nil
}

func (s *Service) addToDefaultCollection(ctx context.Context, owner, questionID string) error {
	collection, err := s.store.EnsureDefaultCollection(ctx, owner, util.NewID("col"), DefaultCollectionName)
	if err != nil {
		return err
	}
	_, err = s.store.AddCollectionItem(ctx, collection.ID, questionID)
	return err
}

func (s *Service) ListBookmarks(ctx context.Context, owner string) ([]store.Bookmark, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, validationError("username is required")
	}
	return s.store.ListBookmarks(ctx, owner)
}

// DeleteBookmark removes the bookmark and pulls the question from the owner's
// default collection. Other collections keep their reference: cross-collection
// removal is caller-driven.
func (s *Service) DeleteBookmark(ctx context.Context, owner, questionID string) (store.Bookmark, error) {
	owner = strings.TrimSpace(owner)
	questionID = strings.TrimSpace(questionID)
	if owner == "" {
		return store.Bookmark{}, validationError("username is required")
	}
	if questionID == "" {
		return store.Bookmark{}, validationError("questionId is required")
	}

	item, err := s.store.DeleteBookmark(ctx, owner, questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Bookmark{}, notFound("bookmark not found")
	}
	if err != nil {
		return store.Bookmark{}, err
	}

	if err := s.store.RemoveDefaultCollectionItem(ctx, owner, questionID); err != nil {
		log.Printf("default collection sync (remove) for %s: %v", owner, err)
	}
	return item, nil
}

// GetOrCreateDefault returns the owner's default collection, creating it when
// absent. This is also the reconciliation path: any caller can re-invoke it to
// restore a missing default collection.
func (s *Service) GetOrCreateDefault(ctx context.Context, owner string) (store.Collection, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return store.Collection{}, validationError("username is required")
	}
	return s.store.EnsureDefaultCollection(ctx, owner, util.NewID("col"), DefaultCollectionName)
}

func (s *Service) CreateCollection(ctx context.Context, owner, name string) (store.Collection, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" {
		return store.Collection{}, validationError("username is required")
	}
	if name == "" {
		return store.Collection{}, validationError("name is required")
	}

	return s.store.InsertCollection(ctx, store.Collection{
		ID:    util.NewID("col"),
		Owner: owner,
		Name:  name,
	})
}

func (s *Service) ListCollections(ctx context.Context, owner string) ([]store.Collection, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, validationError("username is required")
	}
	return s.store.ListCollections(ctx, owner)
}

func (s *Service) RenameCollection(ctx context.Context, owner, collectionID, name string) (store.Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Collection{}, validationError("name is required")
	}

	collection, err := s.getOwnedCollection(ctx, owner, collectionID)
	if err != nil {
		return store.Collection{}, err
	}
	if collection.IsDefault {
		return store.Collection{}, defaultCollectionError("CANNOT_RENAME_DEFAULT", "the default collection cannot be renamed")
	}

	renamed, err := s.store.RenameCollection(ctx, owner, collectionID, name)
	if err != nil {
		return store.Collection{}, err
	}
	if !renamed {
		return store.Collection{}, notFound("collection not found")
	}
	collection.Name = name
	return collection, nil
}

func (s *Service) DeleteCollection(ctx context.Context, owner, collectionID string) (store.Collection, error) {
	collection, err := s.getOwnedCollection(ctx, owner, collectionID)
	if err != nil {
		return store.Collection{}, err
	}
	if collection.IsDefault {
		return store.Collection{}, defaultCollectionError("CANNOT_DELETE_DEFAULT", "the default collection cannot be deleted")
	}

	deleted, err := s.store.DeleteCollection(ctx, owner, collectionID)
	if err != nil {
		return store.Collection{}, err
	}
	if !deleted {
		return store.Collection{}, notFound("collection not found")
	}
	return collection, nil
}

// AddToCollection adds a question reference with duplicate-safe semantics:
// when the reference is already present the unchanged collection comes back
// flagged AlreadyExists so the caller can skip its "added" notification. The
// add itself is add-to-set, so concurrent duplicates converge on one entry.
func (s *Service) AddToCollection(ctx context.Context, owner, collectionID, questionID string) (MembershipResult, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return MembershipResult{}, validationError("questionId is required")
	}

	collection, err := s.getOwnedCollection(ctx, owner, collectionID)
	if err != nil {
		return MembershipResult{}, err
	}

	inserted, err := s.store.AddCollectionItem(ctx, collection.ID, questionID)
	if err != nil {
		return MembershipResult{}, err
	}
	if !inserted {
		return MembershipResult{Collection: collection, AlreadyExists: true}, nil
	}

	updated, err := s.getOwnedCollection(ctx, owner, collectionID)
	if err != nil {
		return MembershipResult{}, err
	}
	return MembershipResult{Collection: updated}, nil
}

// RemoveFromCollection pulls a question reference. Pulling an absent
// reference succeeds and leaves the set unchanged.
func (s *Service) RemoveFromCollection(ctx context.Context, owner, collectionID, questionID string) (store.Collection, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return store.Collection{}, validationError("questionId is required")
	}

	collection, err := s.getOwnedCollection(ctx, owner, collectionID)
	if err != nil {
		return store.Collection{}, err
	}

	if err := s.store.RemoveCollectionItem(ctx, collection.ID, questionID); err != nil {
		return store.Collection{}, err
	}
	return s.getOwnedCollection(ctx, owner, collectionID)
}

func (s *Service) CollectionReferences(ctx context.Context, collectionID string) ([]string, error) {
	collectionID = strings.TrimSpace(collectionID)
	if collectionID == "" {
		return nil, validationError("collectionId is required")
	}

	collection, err := s.store.GetCollectionByID(ctx, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("collection not found")
	}
	if err != nil {
		return nil, err
	}
	return collection.Bookmarks, nil
}

func (s *Service) getOwnedCollection(ctx context.Context, owner, collectionID string) (store.Collection, error) {
	owner = strings.TrimSpace(owner)
	collectionID = strings.TrimSpace(collectionID)
	if owner == "" {
		return store.Collection{}, validationError("username is required")
	}
	if collectionID == "" {
		return store.Collection{}, validationError("collectionId is required")
	}

	collection, err := s.store.GetCollection(ctx, owner, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Collection{}, notFound("collection not found")
	}
	if err != nil {
		return store.Collection{}, err
	}
	return collection, nil
}

// VoteTheme applies one toggle transition for (theme, username): a vote of
// the same type cancels, a vote of the opposite type switches, and a first
// vote registers. The record is lazily created; the toggle itself is a single
// atomic store update, so a voter never lands in both sets.
func (s *Service) VoteTheme(ctx context.Context, theme, username, voteType string) (ThemeVoteResult, error) {
	theme = strings.TrimSpace(theme)
	username = strings.TrimSpace(username)
	voteType = strings.ToLower(strings.TrimSpace(voteType))
	if theme == "" {
		return ThemeVoteResult{}, validationError("theme is required")
	}
	if username == "" {
		return ThemeVoteResult{}, validationError("username is required")
	}
	if _, ok := allowedVoteTypes[voteType]; !ok {
		return ThemeVoteResult{}, validationError("type must be 'upvote' or 'downvote'")
	}

	if err := s.store.EnsureTheme(ctx, theme); err != nil {
		return ThemeVoteResult{}, err
	}
	if err := s.store.ToggleThemeVote(ctx, theme, username, voteType); err != nil {
		return ThemeVoteResult{}, err
	}

	snapshot, err := s.store.GetThemeVote(ctx, theme)
	if errors.Is(err, sql.ErrNoRows) {
		return ThemeVoteResult{}, domainError(404, "THEME_NOT_FOUND", "theme not found", nil)
	}
	if err != nil {
		return ThemeVoteResult{}, err
	}

	return ThemeVoteResult{
		Theme:     snapshot.Theme,
		UpVotes:   snapshot.UpVotes,
		DownVotes: snapshot.DownVotes,
		Message:   voteMessage(snapshot, username, voteType),
	}, nil
}

// voteMessage names the transition by re-checking membership in the
// post-update snapshot instead of trusting the requested type.
func voteMessage(snapshot store.ThemeVote, username, voteType string) string {
	target := snapshot.UpVotes
	if voteType == VoteDown {
		target = snapshot.DownVotes
	}
	for _, name := range target {
		if name == username {
			return voteType + " recorded for theme " + snapshot.Theme
		}
	}
	return voteType + " withdrawn for theme " + snapshot.Theme
}

func (s *Service) ListThemeVotes(ctx context.Context) ([]store.ThemeVote, error) {
	return s.store.ListThemeVotes(ctx)
}

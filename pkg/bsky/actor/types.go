package actor

import (
	"encoding/json"
	"time"
)

// ViewerState is the relationship between the requesting account and the
// subject. Only populated on authenticated requests.
type ViewerState struct {
	Muted      bool   `json:"muted,omitempty"`
	BlockedBy  bool   `json:"blockedBy,omitempty"`
	Blocking   string `json:"blocking,omitempty"`
	Following  string `json:"following,omitempty"`
	FollowedBy string `json:"followedBy,omitempty"`
}

// ProfileView is the compact profile returned by list and search operations.
type ProfileView struct {
	DID         string       `json:"did"`
	Handle      string       `json:"handle"`
	DisplayName string       `json:"displayName,omitempty"`
	Description string       `json:"description,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	IndexedAt   *time.Time   `json:"indexedAt,omitempty"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
	Viewer      *ViewerState `json:"viewer,omitempty"`
}

// ProfileViewDetailed is returned by getProfile and getProfiles.
type ProfileViewDetailed struct {
	ProfileView
	Banner         string `json:"banner,omitempty"`
	FollowersCount int64  `json:"followersCount,omitempty"`
	FollowsCount   int64  `json:"followsCount,omitempty"`
	PostsCount     int64  `json:"postsCount,omitempty"`
}

// ProfilesOutput is the getProfiles result.
type ProfilesOutput struct {
	Profiles []ProfileViewDetailed `json:"profiles"`
}

// SuggestionsOutput is one page of getSuggestions.
type SuggestionsOutput struct {
	Cursor string        `json:"cursor,omitempty"`
	Actors []ProfileView `json:"actors"`
}

// NextCursor returns the cursor for the following page, or "" at the end.
func (o SuggestionsOutput) NextCursor() string { return o.Cursor }

// SearchActorsOutput is one page of searchActors.
type SearchActorsOutput struct {
	Cursor string        `json:"cursor,omitempty"`
	Actors []ProfileView `json:"actors"`
}

// NextCursor returns the cursor for the following page, or "" at the end.
func (o SearchActorsOutput) NextCursor() string { return o.Cursor }

// TypeaheadOutput is the searchActorsTypeahead result.
type TypeaheadOutput struct {
	Actors []ProfileView `json:"actors"`
}

// PreferencesOutput holds the account preferences. Each preference is an
// open union keyed by $type, kept undecoded.
type PreferencesOutput struct {
	Preferences []json.RawMessage `json:"preferences"`
}

// PreferencesInput is the putPreferences payload.
type PreferencesInput struct {
	Preferences []json.RawMessage `json:"preferences"`
}

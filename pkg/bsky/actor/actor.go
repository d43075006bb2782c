// Package actor builds request descriptors for the app.bsky.actor namespace.
//
// Every builder is pure: it validates its parameters and returns an
// xrpc.Descriptor without touching the network. Out-of-range limits and
// malformed identifiers are rejected with *xrpc.ValidationError.
//
// Reference: https://docs.bsky.app/docs/category/http-reference
package actor

import (
	"fmt"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// Operation ids.
const (
	OpGetPreferences        = "app.bsky.actor.getPreferences"
	OpGetProfile            = "app.bsky.actor.getProfile"
	OpGetProfiles           = "app.bsky.actor.getProfiles"
	OpGetSuggestions        = "app.bsky.actor.getSuggestions"
	OpPutPreferences        = "app.bsky.actor.putPreferences"
	OpSearchActorsTypeahead = "app.bsky.actor.searchActorsTypeahead"
	OpSearchActors          = "app.bsky.actor.searchActors"
)

// Bounds and defaults declared by the lexicons.
const (
	MinLimit = 1
	MaxLimit = 100

	DefaultSuggestionsLimit = 50
	DefaultTypeaheadLimit   = 10
	DefaultSearchLimit      = 25

	// MaxProfilesPerRequest is the largest actors list getProfiles accepts.
	MaxProfilesPerRequest = 25
)

// GetPreferences gets private preferences attached to the current account.
// Expected use is synchronization between multiple devices, and
// import/export during account migration.
//
// Auth: required.
func GetPreferences() (xrpc.Descriptor, error) {
	return xrpc.NewQuery(OpGetPreferences, xrpc.AuthRequired).Build()
}

// GetProfile gets a detailed profile view of an actor (handle or DID). Does
// not require auth, but contains relevant metadata with auth.
//
// Auth: optional.
func GetProfile(actor string) (xrpc.Descriptor, error) {
	b := xrpc.NewQuery(OpGetProfile, xrpc.AuthOptional)
	if err := validateIdentifier(actor); err != nil {
		b.Fail("actor", err.Error())
	}
	return b.String("actor", actor).Build()
}

// GetProfiles gets detailed profile views of up to 25 actors.
//
// Auth: optional.
func GetProfiles(actors []string) (xrpc.Descriptor, error) {
	b := xrpc.NewQuery(OpGetProfiles, xrpc.AuthOptional)
	for i, a := range actors {
		if err := validateIdentifier(a); err != nil {
			b.Fail("actors", fmt.Sprintf("element %d: %v", i, err))
			break
		}
	}
	return b.List("actors", actors, 1, MaxProfilesPerRequest).Build()
}

// ChunkProfiles splits actors into GetProfiles descriptors of at most
// MaxProfilesPerRequest identifiers each, preserving order.
func ChunkProfiles(actors []string) ([]xrpc.Descriptor, error) {
	if len(actors) == 0 {
		_, err := GetProfiles(nil)
		return nil, err
	}
	out := make([]xrpc.Descriptor, 0, (len(actors)+MaxProfilesPerRequest-1)/MaxProfilesPerRequest)
	for start := 0; start < len(actors); start += MaxProfilesPerRequest {
		end := min(start+MaxProfilesPerRequest, len(actors))
		d, err := GetProfiles(actors[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GetSuggestions gets a list of suggested actors. Expected use is discovery
// of accounts to follow during new account onboarding.
// Accepts WithCursor (default "") and WithLimit (default 50).
//
// Auth: optional.
func GetSuggestions(opts ...Option) (xrpc.Descriptor, error) {
	b := xrpc.NewQuery(OpGetSuggestions, xrpc.AuthOptional)
	p := collect(b, opts, acceptCursor|acceptLimit)
	return b.
		Int("limit", p.limitOr(DefaultSuggestionsLimit), MinLimit, MaxLimit).
		String("cursor", p.cursorOr("")).
		Build()
}

// PutPreferences sets the private preferences attached to the account.
// The payload is serialized as JSON. A successful call invalidates cached
// GetPreferences results.
//
// Auth: required.
func PutPreferences(preferences any) (xrpc.Descriptor, error) {
	return xrpc.NewProcedure(OpPutPreferences, xrpc.MethodPut, xrpc.AuthRequired).
		JSON(preferences).
		Invalidates(OpGetPreferences).
		Build()
}

// SearchActorsTypeahead finds actor suggestions for a prefix search term.
// Expected use is for auto-completion during text field entry.
// Accepts WithLimit (default 10).
//
// Auth: optional.
func SearchActorsTypeahead(q string, opts ...Option) (xrpc.Descriptor, error) {
	b := xrpc.NewQuery(OpSearchActorsTypeahead, xrpc.AuthOptional)
	p := collect(b, opts, acceptLimit)
	return b.
		String("q", q).
		Int("limit", p.limitOr(DefaultTypeaheadLimit), MinLimit, MaxLimit).
		Build()
}

// SearchActors finds actors (profiles) matching search criteria.
// Accepts WithCursor (default "") and WithLimit (default 25).
//
// Auth: optional.
func SearchActors(q string, opts ...Option) (xrpc.Descriptor, error) {
	b := xrpc.NewQuery(OpSearchActors, xrpc.AuthOptional)
	p := collect(b, opts, acceptCursor|acceptLimit)
	return b.
		String("q", q).
		Int("limit", p.limitOr(DefaultSearchLimit), MinLimit, MaxLimit).
		String("cursor", p.cursorOr("")).
		Build()
}

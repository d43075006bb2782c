package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embersky/xrpc-client/cmd/embersky/commands"
	"github.com/embersky/xrpc-client/internal/app"
	"github.com/embersky/xrpc-client/internal/testutil"
	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/config"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// setupEnv points the CLI at mock and clears every other override.
func setupEnv(t *testing.T, mock *testutil.MockXRPC) {
	t.Helper()
	for _, key := range []string{
		config.EnvRedisURL, config.EnvRedisPassword, config.EnvStrategy,
		config.EnvWorkerListen, config.EnvWorkerEndpoint, config.EnvLogLevel,
		config.EnvLogPretty, "XRPC_TOKEN", "XRPC_PRINCIPAL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvBaseURL, mock.URL())
	t.Setenv(config.EnvUserAgent, "embersky-test/1.0")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := commands.New()
	var stdout, stderr bytes.Buffer
	cli.SetOutput(&stdout, &stderr)
	cli.SetArgs(args)
	err := cli.Execute(context.Background())
	return stdout.String(), err
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), "output: %s", out)
	return v
}

func query(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

func TestProfile_Single(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetJSON(actor.OpGetProfile, actor.ProfileViewDetailed{
		ProfileView:    actor.ProfileView{DID: "did:plc:alice", Handle: "alice.bsky.social"},
		FollowersCount: 42,
	})

	out, err := execute(t, "profile", "alice.bsky.social")
	require.NoError(t, err)

	profile := decode[actor.ProfileViewDetailed](t, out)
	assert.Equal(t, "alice.bsky.social", profile.Handle)
	assert.EqualValues(t, 42, profile.FollowersCount)
	assert.Equal(t, "actor=alice.bsky.social", mock.LastQuery(actor.OpGetProfile))
}

func TestProfile_Batch(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetHandler(actor.OpGetProfiles, func(w http.ResponseWriter, r *http.Request) {
		var out actor.ProfilesOutput
		for _, a := range strings.Split(query(r, "actors"), ",") {
			out.Profiles = append(out.Profiles, actor.ProfileViewDetailed{ProfileView: actor.ProfileView{Handle: a}})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	args := []string{"profile"}
	for i := 0; i < 30; i++ {
		args = append(args, fmt.Sprintf("user%d.bsky.social", i))
	}

	out, err := execute(t, args...)
	require.NoError(t, err)

	profiles := decode[actor.ProfilesOutput](t, out)
	assert.Len(t, profiles.Profiles, 30)
	assert.Equal(t, 2, mock.OperationCount(actor.OpGetProfiles))
}

func TestProfile_InvalidActor(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)

	_, err := execute(t, "profile", "not a handle")
	assert.ErrorIs(t, err, xrpc.ErrValidation)
	assert.Zero(t, mock.RequestCount())
}

func TestProfile_RequiresArgument(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)

	_, err := execute(t, "profile")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)

	var gotLimit, gotCursor string
	mock.SetHandler(actor.OpSearchActors, func(w http.ResponseWriter, r *http.Request) {
		gotLimit, gotCursor = query(r, "limit"), query(r, "cursor")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(actor.SearchActorsOutput{
			Cursor: "next",
			Actors: []actor.ProfileView{{Handle: "alice.bsky.social"}},
		})
	})

	out, err := execute(t, "search", "alice", "--limit", "5", "--cursor", "abc")
	require.NoError(t, err)

	result := decode[actor.SearchActorsOutput](t, out)
	assert.Equal(t, "next", result.Cursor)
	require.Len(t, result.Actors, 1)
	assert.Equal(t, "5", gotLimit)
	assert.Equal(t, "abc", gotCursor)
}

func TestSearch_Typeahead(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetJSON(actor.OpSearchActorsTypeahead, actor.TypeaheadOutput{
		Actors: []actor.ProfileView{{Handle: "alice.bsky.social"}, {Handle: "alicia.bsky.social"}},
	})

	out, err := execute(t, "search", "ali", "--typeahead")
	require.NoError(t, err)

	result := decode[actor.TypeaheadOutput](t, out)
	assert.Len(t, result.Actors, 2)
	assert.Equal(t, 1, mock.OperationCount(actor.OpSearchActorsTypeahead))
	assert.Zero(t, mock.OperationCount(actor.OpSearchActors))

	_, err = execute(t, "search", "ali", "--typeahead", "--cursor", "x")
	assert.ErrorContains(t, err, "cannot be combined")
}

func TestSearch_LimitOutOfRange(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)

	_, err := execute(t, "search", "alice", "--limit", "500")
	assert.ErrorIs(t, err, xrpc.ErrValidation)
	assert.Zero(t, mock.RequestCount())
}

func pagedSuggestions(pages int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if c := query(r, "cursor"); c != "" {
			fmt.Sscanf(c, "p%d", &page)
		}
		out := actor.SuggestionsOutput{
			Actors: []actor.ProfileView{{Handle: fmt.Sprintf("user%d.bsky.social", page)}},
		}
		if page+1 < pages {
			out.Cursor = fmt.Sprintf("p%d", page+1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func TestSuggestions(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetHandler(actor.OpGetSuggestions, pagedSuggestions(3))

	t.Run("single page", func(t *testing.T) {
		out, err := execute(t, "suggestions", "--cursor", "p1")
		require.NoError(t, err)
		page := decode[actor.SuggestionsOutput](t, out)
		assert.Equal(t, "p2", page.Cursor)
		assert.Equal(t, "user1.bsky.social", page.Actors[0].Handle)
	})

	t.Run("all pages", func(t *testing.T) {
		mock.Reset()
		out, err := execute(t, "suggestions", "--all")
		require.NoError(t, err)
		all := decode[actor.SuggestionsOutput](t, out)
		assert.Len(t, all.Actors, 3)
		assert.Empty(t, all.Cursor)
		assert.Equal(t, 3, mock.OperationCount(actor.OpGetSuggestions))
	})

	t.Run("max pages", func(t *testing.T) {
		mock.Reset()
		out, err := execute(t, "suggestions", "--all", "--max-pages", "2")
		require.NoError(t, err)
		assert.Len(t, decode[actor.SuggestionsOutput](t, out).Actors, 2)
	})

	t.Run("cursor conflicts with all", func(t *testing.T) {
		_, err := execute(t, "suggestions", "--all", "--cursor", "p1")
		assert.ErrorContains(t, err, "cannot be combined")
	})
}

func TestPreferences(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetResponse(actor.OpGetPreferences, testutil.NewHealthyResponse(
		`{"preferences":[{"$type":"app.bsky.actor.defs#adultContentPref","enabled":false}]}`))

	t.Run("without token", func(t *testing.T) {
		_, err := execute(t, "preferences")
		assert.ErrorIs(t, err, xrpc.ErrAuthRequired)
		assert.Zero(t, mock.RequestCount())
	})

	t.Run("with token", func(t *testing.T) {
		t.Setenv("XRPC_TOKEN", "secret-token")
		out, err := execute(t, "preferences")
		require.NoError(t, err)
		prefs := decode[actor.PreferencesOutput](t, out)
		assert.Len(t, prefs.Preferences, 1)
		assert.Equal(t, "Bearer secret-token", mock.LastRequestHeader().Get("Authorization"))
	})
}

func TestGlobalFlags(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	mock.SetJSON(actor.OpGetProfile, actor.ProfileViewDetailed{ProfileView: actor.ProfileView{Handle: "alice.bsky.social"}})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := execute(t, "--strategy", "sideways", "profile", "alice.bsky.social")
		assert.ErrorContains(t, err, "worker.strategy")
	})

	t.Run("unknown log level", func(t *testing.T) {
		_, err := execute(t, "--log-level", "loud", "profile", "alice.bsky.social")
		assert.ErrorContains(t, err, "log.level")
	})

	t.Run("delegated in-process", func(t *testing.T) {
		out, err := execute(t, "--strategy", "delegated", "profile", "alice.bsky.social")
		require.NoError(t, err)
		assert.Equal(t, "alice.bsky.social", decode[actor.ProfileViewDetailed](t, out).Handle)
	})

	t.Run("remote worker", func(t *testing.T) {
		cfg := config.Default()
		cfg.Service.BaseURL = mock.URL()
		server, err := app.New(context.Background(), cfg)
		require.NoError(t, err)
		defer server.Close()
		srv := httptest.NewServer(server.Handler(context.Background()))
		defer srv.Close()

		mock.Reset()
		out, err := execute(t, "--worker", srv.URL, "profile", "alice.bsky.social")
		require.NoError(t, err)
		assert.Equal(t, "alice.bsky.social", decode[actor.ProfileViewDetailed](t, out).Handle)
		assert.Equal(t, 1, mock.OperationCount(actor.OpGetProfile))
	})
}

func TestConfigFile(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock)
	t.Setenv(config.EnvBaseURL, "")
	mock.SetJSON(actor.OpGetProfile, actor.ProfileViewDetailed{ProfileView: actor.ProfileView{Handle: "alice.bsky.social"}})

	path := filepath.Join(t.TempDir(), "embersky.yaml")
	content := strings.Join([]string{
		"service:",
		"  base_url: " + mock.URL(),
		"log:",
		"  level: error",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := execute(t, "--config", path, "profile", "alice.bsky.social")
	require.NoError(t, err)
	assert.Contains(t, out, "alice.bsky.social")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "profile", "alice.bsky.social")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

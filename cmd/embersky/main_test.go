package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/embersky/xrpc-client/internal/testutil"
	"github.com/embersky/xrpc-client/pkg/bsky/actor"
	"github.com/embersky/xrpc-client/pkg/config"
	"github.com/embersky/xrpc-client/pkg/xrpc"
)

func setupEnv(t *testing.T, baseURL string) {
	t.Helper()
	for _, key := range []string{
		config.EnvRedisURL, config.EnvStrategy, config.EnvWorkerEndpoint,
		config.EnvLogLevel, config.EnvLogPretty, "XRPC_TOKEN", "XRPC_PRINCIPAL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvBaseURL, baseURL)
	t.Setenv(config.EnvUserAgent, "embersky-test/1.0")
}

func TestRun(t *testing.T) {
	mock := testutil.NewMockXRPC()
	defer mock.Close()
	setupEnv(t, mock.URL())

	mock.SetJSON(actor.OpGetProfile, actor.ProfileViewDetailed{
		ProfileView: actor.ProfileView{Handle: "alice.bsky.social"},
	})
	mock.SetResponse(actor.OpSearchActors, testutil.NewErrorResponse(http.StatusBadRequest, "InvalidRequest", "bad query"))

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "success",
			args:       []string{"profile", "alice.bsky.social"},
			wantCode:   exitOK,
			wantStdout: `"handle": "alice.bsky.social"`,
		},
		{
			name:       "auth required",
			args:       []string{"preferences"},
			wantCode:   exitAuth,
			wantStderr: "Error:",
		},
		{
			name:       "http status error",
			args:       []string{"search", "alice"},
			wantCode:   exitError,
			wantStderr: "InvalidRequest",
		},
		{
			name:       "unknown command",
			args:       []string{"frobnicate"},
			wantCode:   exitError,
			wantStderr: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)

			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr %q does not contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestRun_NetworkFailure(t *testing.T) {
	mock := testutil.NewMockXRPC()
	url := mock.URL()
	mock.Close()
	setupEnv(t, url)

	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"profile", "alice.bsky.social"}, &stdout, &stderr); code != exitNetwork {
		t.Errorf("exit code = %d, want %d (stderr: %s)", code, exitNetwork, stderr.String())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&xrpc.AuthRequiredError{Operation: actor.OpGetPreferences}, exitAuth},
		{&xrpc.NetworkError{Operation: actor.OpGetProfile, Err: context.DeadlineExceeded}, exitNetwork},
		{fmt.Errorf("batch fetch: %w", &xrpc.NetworkError{Operation: actor.OpGetProfiles, Err: errors.New("reset")}), exitNetwork},
		{xrpc.NewHTTPStatusError(actor.OpGetProfile, http.StatusNotFound, nil), exitError},
		{&xrpc.ValidationError{Operation: actor.OpGetProfile, Param: "actor", Reason: "empty"}, exitError},
		{errors.New("config"), exitError},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

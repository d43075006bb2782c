// Package auth supplies credentials to dispatchers and enforces the auth
// requirement each descriptor declares.
package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/embersky/xrpc-client/pkg/xrpc"
)

// ErrNoCredential is returned by providers that have nothing to offer.
var ErrNoCredential = errors.New("no credential available")

// Credential is a bearer access token and, when known, the DID or handle it
// belongs to.
type Credential struct {
	Token     string
	Principal string
}

// IsZero reports whether c carries no token.
func (c Credential) IsZero() bool { return c.Token == "" }

// Identity returns a stable, non-secret name for the credential. Requests
// made under different identities never share cache entries or flights.
func (c Credential) Identity() string {
	switch {
	case c.IsZero():
		return ""
	case c.Principal != "":
		return c.Principal
	default:
		return "tok:" + strconv.FormatUint(xxhash.Sum64String(c.Token), 16)
	}
}

// Provider hands out the current credential.
type Provider interface {
	Credential(ctx context.Context) (Credential, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Credential, error)

func (f ProviderFunc) Credential(ctx context.Context) (Credential, error) { return f(ctx) }

// Static always returns the same credential.
func Static(token, principal string) Provider {
	c := Credential{Token: token, Principal: principal}
	return ProviderFunc(func(context.Context) (Credential, error) {
		if c.IsZero() {
			return Credential{}, ErrNoCredential
		}
		return c, nil
	})
}

// Anonymous never returns a credential.
func Anonymous() Provider {
	return ProviderFunc(func(context.Context) (Credential, error) {
		return Credential{}, ErrNoCredential
	})
}

// FromEnv reads the token and principal from environment variables on every
// call, so a rotated token is picked up without a restart.
func FromEnv(tokenVar, principalVar string) Provider {
	return ProviderFunc(func(context.Context) (Credential, error) {
		c := Credential{Token: os.Getenv(tokenVar)}
		if principalVar != "" {
			c.Principal = os.Getenv(principalVar)
		}
		if c.IsZero() {
			return Credential{}, ErrNoCredential
		}
		return c, nil
	})
}

// Resolve returns the credential to send with d.
//
// AuthNone never consults the provider. AuthOptional falls back to an
// anonymous call when the provider fails. AuthRequired turns a missing
// credential into *xrpc.AuthRequiredError, before any request is made.
func Resolve(ctx context.Context, p Provider, d xrpc.Descriptor) (Credential, error) {
	if d.Auth() == xrpc.AuthNone {
		return Credential{}, nil
	}

	var (
		cred Credential
		err  error
	)
	if p != nil {
		cred, err = p.Credential(ctx)
	} else {
		err = ErrNoCredential
	}
	if err == nil && cred.IsZero() {
		err = ErrNoCredential
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Credential{}, &xrpc.NetworkError{Operation: d.Operation(), Err: ctxErr}
		}
		if d.Auth() == xrpc.AuthRequired {
			return Credential{}, &xrpc.AuthRequiredError{Operation: d.Operation(), Err: err}
		}
		return Credential{}, nil
	}
	return cred, nil
}

// Attach sets the bearer token on req. A zero credential leaves req untouched.
func Attach(req *http.Request, c Credential) {
	if c.IsZero() {
		return
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
}

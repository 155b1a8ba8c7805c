// Package auth authenticates API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// API scopes.
const (
	ScopeAll      = "*"
	ScopeOpsRead  = "ops:ro"
	ScopeOpsWrite = "ops:rw"
	ScopeEventsRO = "events:ro"
)

// KnownScope reports whether s is a scope the API checks for.
func KnownScope(s string) bool {
	switch strings.TrimSpace(s) {
	case ScopeAll, ScopeOpsRead, ScopeOpsWrite, ScopeEventsRO:
		return true
	}
	return false
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// ScopeSet is the normalized scope list of one credential.
type ScopeSet map[string]struct{}

// NewScopeSet trims and dedupes scopes. ops:rw implies ops:ro.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes)+1)
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	if _, ok := set[ScopeOpsWrite]; ok {
		set[ScopeOpsRead] = struct{}{}
	}
	return set
}

// Allows reports whether the set grants any of required. "*" grants all.
func (s ScopeSet) Allows(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := s[ScopeAll]; ok {
		return true
	}
	for _, r := range required {
		if _, ok := s[r]; ok {
			return true
		}
	}
	return false
}

// Principal is an authenticated caller. Name identifies the credential
// without revealing it ("api_key" or "token[N]").
type Principal struct {
	Name   string
	Scopes ScopeSet
}

type credential struct {
	secret    []byte
	principal Principal
}

// Authenticator matches bearer tokens against the configured credentials.
type Authenticator struct {
	creds []credential
}

// New compiles apiKey (every scope) and the scoped tokens. Empty secrets
// are skipped so they can never match.
func New(apiKey string, tokens []TokenConfig) *Authenticator {
	a := &Authenticator{}
	if apiKey != "" {
		a.creds = append(a.creds, credential{
			secret:    []byte(apiKey),
			principal: Principal{Name: "api_key", Scopes: NewScopeSet(ScopeAll)},
		})
	}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.creds = append(a.creds, credential{
			secret:    []byte(t.Token),
			principal: Principal{Name: fmt.Sprintf("token[%d]", i), Scopes: NewScopeSet(t.Scopes...)},
		})
	}
	return a
}

// Authenticate returns the principal for presented. Every credential is
// compared so timing does not reveal which one matched.
func (a *Authenticator) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	in := []byte(presented)

	var (
		match Principal
		found bool
	)
	for _, c := range a.creds {
		if subtle.ConstantTimeCompare(in, c.secret) == 1 && !found {
			match, found = c.principal, true
		}
	}
	return match, found
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

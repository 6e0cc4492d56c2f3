package server

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/coffersTech/grandoutput/internal/config"
)

// HashToken returns the bcrypt hash to store in the configuration for a
// bearer token.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// authenticator checks bearer tokens against bcrypt hashes. Verified
// tokens are remembered so that bcrypt runs once per token.
type authenticator struct {
	tokens   []config.Token
	verified sync.Map // token -> name
}

func newAuthenticator(tokens []config.Token) *authenticator {
	return &authenticator{tokens: tokens}
}

func (a *authenticator) enabled() bool {
	return len(a.tokens) > 0
}

// verify returns the name of the configured token matching token.
func (a *authenticator) verify(token string) (string, bool) {
	if name, ok := a.verified.Load(token); ok {
		return name.(string), true
	}
	for _, t := range a.tokens {
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(token)) == nil {
			a.verified.Store(token, t.Name)
			return t.Name, true
		}
	}
	return "", false
}

// bearerToken reads the Authorization header, or the token query parameter.
func bearerToken(r *http.Request) (string, bool) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token != "" {
		return token, true
	}
	token := r.URL.Query().Get("token")
	return token, token != ""
}

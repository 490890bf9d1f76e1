package visa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"slotwatch/pkg/logx"
)

// DefaultSessionExpiry is how long a successful login is trusted before the
// next EnsureValid call re-authenticates.
const DefaultSessionExpiry = 30 * time.Minute

// rejectedMarker appears in the login response body when credentials are
// refused (the upstream answers 200 either way).
const rejectedMarker = "Invalid Email or Password"

// Session owns the authentication lifecycle: an anti-forgery token, the
// session cookie (held in the client's jar) and a liveness flag.
//
// EnsureValid performs no retries; retry policy belongs to the poll
// scheduler.
type Session struct {
	client *Client
	log    logx.Logger

	mu       sync.Mutex
	csrf     string
	issuedAt time.Time
	valid    bool

	expiry time.Duration
	now    func() time.Time
}

func NewSession(client *Client, expiry time.Duration, log logx.Logger) *Session {
	if expiry <= 0 {
		expiry = DefaultSessionExpiry
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{
		client: client,
		log:    log,
		expiry: expiry,
		now:    time.Now,
	}
}

// EnsureValid returns the current anti-forgery token, re-authenticating first
// when the session is invalid or older than the expiry window.
func (s *Session) EnsureValid(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.valid && s.now().Sub(s.issuedAt) < s.expiry {
		return s.csrf, nil
	}

	if err := s.login(ctx); err != nil {
		s.valid = false
		return "", err
	}
	s.valid = true
	s.issuedAt = s.now()
	return s.csrf, nil
}

// Invalidate forces re-authentication on the next EnsureValid call. Callers
// use it when a fetch comes back as a sign-in page.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
	s.log.Debug("session invalidated")
}

// Valid reports the liveness flag without touching the network.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && s.now().Sub(s.issuedAt) < s.expiry
}

// login runs the two-step authentication protocol: fetch the sign-in page to
// obtain the anti-forgery token, then post the credentials with that token.
func (s *Session) login(ctx context.Context) error {
	s.log.Debug("fetching sign-in page for anti-forgery token")

	req, err := s.client.newRequest(ctx, http.MethodGet, s.client.loginURL(), nil)
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	body, err := readBody(resp)
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Reason: AuthTransport, Err: fmt.Errorf("sign-in page: http %d", resp.StatusCode)}
	}

	token, err := extractMetaToken(strings.NewReader(string(body)), "csrf-token")
	if err != nil {
		return &AuthError{Reason: AuthMissingToken, Err: err}
	}

	creds := s.client.Credentials()
	form := url.Values{}
	form.Set("user[email]", creds.Email)
	form.Set("user[password]", creds.Password)
	form.Set("policy_confirmed", "1")
	form.Set("commit", "Sign In")

	s.log.Debug("posting credentials", logx.String("email", creds.Email))

	req, err = s.client.newRequest(ctx, http.MethodPost, s.client.loginURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	req.Header.Set("Accept", "*/*;q=0.5, text/javascript, application/javascript")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Referer", s.client.loginURL())
	req.Header.Set("X-CSRF-Token", token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	resp, err = s.client.http.Do(req)
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	body, err = readBody(resp)
	if err != nil {
		return &AuthError{Reason: AuthTransport, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &AuthError{Reason: AuthRejected, Err: fmt.Errorf("sign-in: http %d", resp.StatusCode)}
	}
	if strings.Contains(string(body), rejectedMarker) {
		return &AuthError{Reason: AuthRejected}
	}

	s.csrf = token
	s.log.Info("authenticated", logx.String("email", creds.Email))
	return nil
}

// extractMetaToken pulls the content of <meta name="..."> from an HTML page.
func extractMetaToken(r io.Reader, name string) (string, error) {
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return "", fmt.Errorf("meta %q not found", name)
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "meta" {
				continue
			}
			var metaName, content string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					metaName = a.Val
				case "content":
					content = a.Val
				}
			}
			if metaName == name {
				if content == "" {
					return "", fmt.Errorf("meta %q has empty content", name)
				}
				return content, nil
			}
		}
	}
}

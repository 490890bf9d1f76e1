// Package visa talks to the upstream appointment system: session lifecycle,
// slot queries and the optional rebooking form submission.
package visa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"

// Upstream responses are small JSON arrays or HTML pages; cap reads so a
// misbehaving endpoint can't balloon memory.
const maxBodyBytes = 1 << 20

// Credentials identify one booking account and its target queue/facility.
// Immutable after construction.
type Credentials struct {
	Email       string
	Password    string
	ScheduleID  string
	FacilityID  string
	CountryCode string // e.g. "en-ca"
	VisaType    string // e.g. "niv"
}

// Client is the shared HTTP surface for session, source and rebooker. The
// cookie jar carries the upstream session cookie between calls.
type Client struct {
	creds Credentials
	http  *http.Client

	// base overrides the production endpoint; used by tests.
	base string
}

func NewClient(creds Credentials, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		creds: creds,
		http:  &http.Client{Timeout: timeout, Jar: jar},
	}, nil
}

func (c *Client) Credentials() Credentials { return c.creds }

func (c *Client) baseURL() string {
	if c.base != "" {
		return c.base
	}
	return fmt.Sprintf("https://ais.usvisa-info.com/%s/%s", c.creds.CountryCode, c.creds.VisaType)
}

func (c *Client) loginURL() string {
	return c.baseURL() + "/users/sign_in"
}

func (c *Client) appointmentURL() string {
	return fmt.Sprintf("%s/schedule/%s/appointment", c.baseURL(), c.creds.ScheduleID)
}

func (c *Client) daysURL() string {
	return fmt.Sprintf("%s/days/%s.json?appointments[expedite]=false", c.appointmentURL(), c.creds.FacilityID)
}

func (c *Client) timesURL(date string) string {
	return fmt.Sprintf("%s/times/%s.json?date=%s&appointments[expedite]=false",
		c.appointmentURL(), c.creds.FacilityID, url.QueryEscape(date))
}

// newRequest builds a request with the browser-shaped headers the upstream
// expects on every call.
func (c *Client) newRequest(ctx context.Context, method, rawurl string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawurl, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}

// newJSONRequest builds an authenticated XHR-style request.
func (c *Client) newJSONRequest(ctx context.Context, rawurl, csrf string) (*http.Request, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Referer", c.appointmentURL())
	req.Header.Set("X-CSRF-Token", csrf)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// looksLikeSignIn reports whether a response body is the sign-in page served
// in place of data when the session has expired upstream.
func looksLikeSignIn(body []byte) bool {
	s := string(body)
	if !strings.Contains(strings.TrimSpace(s[:min(len(s), 256)]), "<") {
		return false
	}
	return strings.Contains(s, "sign_in") || strings.Contains(s, "Sign In")
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

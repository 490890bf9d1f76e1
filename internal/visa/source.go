package visa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"slotwatch/pkg/logx"
)

// DateSlot is one bookable date as reported by the upstream.
type DateSlot struct {
	Date        string `json:"date"` // "2006-01-02"
	BusinessDay bool   `json:"business_day"`
}

// Source queries available dates and times. Pure query, no state: every call
// produces a fresh observation.
type Source struct {
	client *Client
	log    logx.Logger
}

func NewSource(client *Client, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{client: client, log: log}
}

// FetchDates returns the currently available dates in upstream order. On any
// failure it returns an empty slice and a *FetchError; it never panics past
// the boundary.
func (s *Source) FetchDates(ctx context.Context, csrf string) ([]DateSlot, error) {
	body, err := s.getJSON(ctx, "days", s.client.daysURL(), csrf)
	if err != nil {
		return nil, err
	}

	var dates []DateSlot
	if err := json.Unmarshal(body, &dates); err != nil {
		return nil, &FetchError{Kind: FetchMalformedPayload, Op: "days", Err: err}
	}
	s.log.Debug("fetched available dates", logx.Int("count", len(dates)))
	return dates, nil
}

// FetchTimes returns the available time strings for one date, in upstream
// order.
func (s *Source) FetchTimes(ctx context.Context, csrf, date string) ([]string, error) {
	body, err := s.getJSON(ctx, "times", s.client.timesURL(date), csrf)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AvailableTimes []string `json:"available_times"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Kind: FetchMalformedPayload, Op: "times", Err: err}
	}
	s.log.Debug("fetched available times", logx.String("date", date), logx.Int("count", len(payload.AvailableTimes)))
	return payload.AvailableTimes, nil
}

func (s *Source) getJSON(ctx context.Context, op, rawurl, csrf string) ([]byte, error) {
	req, err := s.client.newJSONRequest(ctx, rawurl, csrf)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, Op: op, Err: err}
	}

	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, Op: op, Err: err}
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, &FetchError{Kind: FetchTransport, Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &FetchError{Kind: FetchTransport, Op: op, Err: ErrLoggedOut}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: FetchTransport, Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	// A sign-in page where JSON was expected means the session died upstream.
	if looksLikeSignIn(body) {
		return nil, &FetchError{Kind: FetchMalformedPayload, Op: op, Err: ErrLoggedOut}
	}
	return body, nil
}

package visa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"slotwatch/pkg/logx"
)

// confirmedMarker appears in the response body after a successful
// appointment form submission.
const confirmedMarker = "Successfully Scheduled"

// RebookPolicy decides which observed dates qualify for an automatic
// rebooking attempt.
type RebookPolicy struct {
	// CurrentAppointment is the already-booked date ("2006-01-02"); only
	// strictly earlier dates qualify.
	CurrentAppointment string
	// MinLeadDays rejects dates too close to today to act on.
	MinLeadDays int
}

// Rebooker submits the appointment form for a qualifying slot. One attempt
// per qualifying observation; the caller decides what happens after success
// or failure.
type Rebooker struct {
	client *Client
	source *Source
	policy RebookPolicy
	log    logx.Logger
	now    func() time.Time
}

func NewRebooker(client *Client, source *Source, policy RebookPolicy, log logx.Logger) *Rebooker {
	if policy.MinLeadDays <= 0 {
		policy.MinLeadDays = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Rebooker{client: client, source: source, policy: policy, log: log, now: time.Now}
}

// Suitable reports whether date is worth an attempt: strictly earlier than
// the current appointment and at least MinLeadDays out from today.
func (r *Rebooker) Suitable(date string) bool {
	current, err := time.Parse("2006-01-02", r.policy.CurrentAppointment)
	if err != nil {
		return false
	}
	candidate, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	if !candidate.Before(current) {
		return false
	}
	earliest := r.now().AddDate(0, 0, r.policy.MinLeadDays)
	return !candidate.Before(time.Date(earliest.Year(), earliest.Month(), earliest.Day(), 0, 0, 0, 0, time.UTC))
}

// Rebook fetches a time slot for date, scrapes the appointment form and
// submits it. Returns true only when the upstream confirms the change.
func (r *Rebooker) Rebook(ctx context.Context, csrf, date string) (bool, error) {
	times, err := r.source.FetchTimes(ctx, csrf, date)
	if err != nil {
		return false, err
	}
	if len(times) == 0 {
		return false, errors.New("no time slots left for date " + date)
	}
	// The last slot is usually the latest in the day and the least contested.
	slot := times[len(times)-1]

	fields, err := r.fetchFormFields(ctx)
	if err != nil {
		return false, err
	}
	token := fields["authenticity_token"]
	if token == "" {
		return false, errors.New("appointment form has no authenticity token")
	}

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	creds := r.client.Credentials()
	form.Set("appointments[consulate_appointment][facility_id]", creds.FacilityID)
	form.Set("appointments[consulate_appointment][date]", date)
	form.Set("appointments[consulate_appointment][time]", slot)

	r.log.Info("submitting rebook request", logx.String("date", date), logx.String("time", slot))

	req, err := r.client.newRequest(ctx, http.MethodPost, r.client.appointmentURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", r.client.appointmentURL())
	req.Header.Set("X-CSRF-Token", token)

	resp, err := r.client.http.Do(req)
	if err != nil {
		return false, err
	}
	body, err := readBody(resp)
	if err != nil {
		return false, err
	}

	if strings.Contains(string(body), confirmedMarker) {
		r.log.Info("rebook confirmed", logx.String("date", date), logx.String("time", slot))
		return true, nil
	}
	r.log.Warn("rebook not confirmed", logx.String("date", date), logx.String("time", slot), logx.Int("status", resp.StatusCode))
	return false, nil
}

// fetchFormFields loads the appointment page and collects its hidden form
// inputs (authenticity_token et al) for resubmission.
func (r *Rebooker) fetchFormFields(ctx context.Context) (map[string]string, error) {
	req, err := r.client.newRequest(ctx, http.MethodGet, r.client.appointmentURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := r.client.http.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("appointment page: http %d", resp.StatusCode)
	}

	return parseFormInputs(strings.NewReader(string(body))), nil
}

// parseFormInputs collects name->value for every <input> on the page.
func parseFormInputs(rd io.Reader) map[string]string {
	fields := map[string]string{}
	z := html.NewTokenizer(rd)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return fields
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "input" {
				continue
			}
			var name, value string
			for _, a := range tok.Attr {
				switch a.Key {
				case "name":
					name = a.Val
				case "value":
					value = a.Val
				}
			}
			if name != "" {
				if _, seen := fields[name]; !seen {
					fields[name] = value
				}
			}
		}
	}
}

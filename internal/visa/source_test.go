package visa

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"slotwatch/pkg/logx"
)

func TestFetchDates(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/schedule/12345/appointment/days/94.json", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-CSRF-Token"); got != "tok" {
			t.Errorf("X-CSRF-Token = %q", got)
		}
		fmt.Fprint(w, `[{"date":"2027-03-10","business_day":true},{"date":"2027-03-11","business_day":true}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewSource(testClient(t, srv.URL), logx.Nop())
	dates, err := src.FetchDates(t.Context(), "tok")
	if err != nil {
		t.Fatalf("FetchDates: %v", err)
	}
	if len(dates) != 2 || dates[0].Date != "2027-03-10" {
		t.Fatalf("dates = %+v", dates)
	}
}

func TestFetchTimes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/schedule/12345/appointment/times/94.json", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("date"); got != "2027-03-10" {
			t.Errorf("date query = %q", got)
		}
		fmt.Fprint(w, `{"available_times":["09:00","13:30"]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := NewSource(testClient(t, srv.URL), logx.Nop())
	times, err := src.FetchTimes(t.Context(), "tok", "2027-03-10")
	if err != nil {
		t.Fatalf("FetchTimes: %v", err)
	}
	if len(times) != 2 || times[1] != "13:30" {
		t.Fatalf("times = %v", times)
	}
}

func TestFetchDatesErrorTaxonomy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		kind      FetchKind
		loggedOut bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: "", kind: FetchTransport, loggedOut: true},
		{name: "server error", status: http.StatusBadGateway, body: "oops", kind: FetchTransport},
		{name: "sign-in page body", status: http.StatusOK, body: "<html><body><a href=\"/users/sign_in\">Sign In</a></body></html>", kind: FetchMalformedPayload, loggedOut: true},
		{name: "broken json", status: http.StatusOK, body: `[{"date":`, kind: FetchMalformedPayload},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			src := NewSource(testClient(t, srv.URL), logx.Nop())
			_, err := src.FetchDates(t.Context(), "tok")

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FetchError", err)
			}
			if fe.Kind != tt.kind {
				t.Fatalf("Kind = %s, want %s", fe.Kind, tt.kind)
			}
			if errors.Is(err, ErrLoggedOut) != tt.loggedOut {
				t.Fatalf("ErrLoggedOut = %v, want %v", errors.Is(err, ErrLoggedOut), tt.loggedOut)
			}
		})
	}
}

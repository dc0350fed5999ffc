package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"skywatch/internal/queue"
)

func TestGeneratePlan(t *testing.T) {
	var got planRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/plans" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"location":"plans/S1/0.json"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	location, err := c.GeneratePlan(context.Background(), queue.Job{
		JobID:          "job-1",
		EventID:        "S1",
		StrategyKind:   "tiling",
		TelescopeGroup: []string{"TCA", "TCH"},
		TileCount:      20,
	})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if location != "plans/S1/0.json" {
		t.Fatalf("location=%q", location)
	}
	if got.EventID != "S1" || got.TileCount != 20 || len(got.Telescopes) != 2 {
		t.Fatalf("request=%+v", got)
	}
}

func TestGeneratePlanServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "planner overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	_, err := c.GeneratePlan(context.Background(), queue.Job{JobID: "job-2", EventID: "S2"})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("err=%T %v", err, err)
	}
	if apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", apiErr.Status)
	}
}

func TestGeneratePlanEmptyLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL)
	if _, err := c.GeneratePlan(context.Background(), queue.Job{JobID: "job-3"}); err == nil {
		t.Fatal("expected error for empty location")
	}
}

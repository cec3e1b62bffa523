package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nkarpachev/emberchat/backend/internal/domain/enums"
)

type fakeSessionCounter struct {
	waiting int64
	err     error
}

func (f *fakeSessionCounter) CountByState(_ context.Context, state enums.ChatState) (int64, error) {
	if state != enums.StateWaiting {
		return 0, nil
	}
	return f.waiting, f.err
}

type fakeChatCounter struct {
	open int64
}

func (f *fakeChatCounter) CountOpen(context.Context) (int64, error) {
	return f.open, nil
}

type fakeConnectionCounter struct {
	total int64
}

func (f *fakeConnectionCounter) Count(context.Context) (int64, error) {
	return f.total, nil
}

func TestHealth(t *testing.T) {
	stats := NewStatsHandler(&fakeSessionCounter{}, &fakeChatCounter{}, &fakeConnectionCounter{}, zap.NewNop())
	router := NewRouter(stats)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("health status %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestStats(t *testing.T) {
	stats := NewStatsHandler(
		&fakeSessionCounter{waiting: 4},
		&fakeChatCounter{open: 2},
		&fakeConnectionCounter{total: 9},
		zap.NewNop(),
	)
	router := NewRouter(stats)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("stats status %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Waiting     int64 `json:"waiting"`
		ActiveChats int64 `json:"active_chats"`
		Connections int64 `json:"connections"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode stats body: %v", err)
	}
	if body.Waiting != 4 || body.ActiveChats != 2 || body.Connections != 9 {
		t.Fatalf("unexpected stats body: %+v", body)
	}
}

func TestStatsCounterFailure(t *testing.T) {
	stats := NewStatsHandler(
		&fakeSessionCounter{err: errors.New("db down")},
		&fakeChatCounter{},
		&fakeConnectionCounter{},
		zap.NewNop(),
	)
	router := NewRouter(stats)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("stats status %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "memengine.db")
	s, err := New("sqlite", dsn)
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	return s
}

func TestStore_CreateAndLoadSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, map[string]interface{}{"source": "test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := s.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error loading session: %v", err)
	}
	if data.Manifest.ID != id {
		t.Fatalf("expected manifest id %s, got %s", id, data.Manifest.ID)
	}
	if data.Manifest.Metadata["source"] != "test" {
		t.Fatalf("expected metadata preserved, got %+v", data.Manifest.Metadata)
	}
}

func TestStore_LoadSession_UnknownIDReturnsNilWithoutError(t *testing.T) {
	s := newTestStore(t)
	data, err := s.LoadSession(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for a genuinely absent session, got %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil session data for unknown id, got %+v", data)
	}
}

func TestStore_SaveMessage_RoutesSystemAndConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, nil, nil)

	sys := memengine.Message{Role: memengine.RoleSystem, Content: memengine.TextContent{Text: "you are helpful"}}
	user := memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "hi"}}

	if err := s.SaveMessage(ctx, id, sys, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.SaveMessage(ctx, id, user, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := s.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.SystemMessages) != 1 || len(data.Messages) != 1 {
		t.Fatalf("expected 1 system and 1 conversation message, got sys=%d msg=%d",
			len(data.SystemMessages), len(data.Messages))
	}
}

func TestStore_SaveMessage_UnknownSessionErrors(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveMessage(context.Background(), "ghost", memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "x"}}, 1)
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestStore_SaveMemory_ReplacesMessagesAndSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, nil, nil)

	_ = s.SaveMessage(ctx, id, memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "old"}}, 1)

	sysMsgs := []memengine.Message{{Role: memengine.RoleSystem, Content: memengine.TextContent{Text: "prompt"}}}
	msgs := []memengine.Message{{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "new"}}}
	summaries := []memengine.Summary{{Text: "digest", CreatedAt: time.Now().UTC()}}

	if err := s.SaveMemory(ctx, id, sysMsgs, msgs, summaries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := s.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(data.Messages) != 1 || data.Messages[0].TextContentOf() != "new" {
		t.Fatalf("expected replaced message state, got %+v", data.Messages)
	}
	if len(data.Summaries) != 1 || data.Summaries[0].Text != "digest" {
		t.Fatalf("expected replaced summaries, got %+v", data.Summaries)
	}
}

func TestStore_ListSessions_OrdersByUpdatedAtDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, _ := s.CreateSession(ctx, nil, nil)
	time.Sleep(2 * time.Millisecond)
	second, _ := s.CreateSession(ctx, nil, nil)

	_ = s.SaveMessage(ctx, first, memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "touch first"}}, 1)

	sessions, err := s.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first {
		t.Fatalf("expected most recently touched session %s first, got %s", first, sessions[0].ID)
	}
	if sessions[1].ID != second {
		t.Fatalf("expected %s second, got %s", second, sessions[1].ID)
	}
}

func TestStore_DeleteSession_CascadesMessagesAndSummaries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, nil, nil)
	_ = s.SaveMessage(ctx, id, memengine.Message{Role: memengine.RoleUser, Content: memengine.TextContent{Text: "hi"}}, 1)

	deleted, err := s.DeleteSession(ctx, id)
	if err != nil || !deleted {
		t.Fatalf("expected successful delete, got deleted=%v err=%v", deleted, err)
	}

	if data, err := s.LoadSession(ctx, id); err != nil || data != nil {
		t.Fatalf("expected session to be gone after delete, got data=%+v err=%v", data, err)
	}

	var count int64
	s.db.Model(&MessageModel{}).Where("session_id = ?", string(id)).Count(&count)
	if count != 0 {
		t.Fatalf("expected cascade-deleted messages, found %d remaining", count)
	}
}

func TestStore_UpdateSessionMetadata_Merges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, map[string]interface{}{"a": float64(1)}, nil)

	ok, err := s.UpdateSessionMetadata(ctx, id, map[string]interface{}{"b": float64(2)})
	if err != nil || !ok {
		t.Fatalf("expected successful update, got ok=%v err=%v", ok, err)
	}

	data, err := s.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Manifest.Metadata["a"] != float64(1) || data.Manifest.Metadata["b"] != float64(2) {
		t.Fatalf("expected merged metadata, got %+v", data.Manifest.Metadata)
	}
}

func TestStore_FindLatestSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.FindLatestSession(ctx); err != nil || ok {
		t.Fatalf("expected no latest session on empty store, got ok=%v err=%v", ok, err)
	}

	_, _ = s.CreateSession(ctx, nil, nil)
	time.Sleep(2 * time.Millisecond)
	second, _ := s.CreateSession(ctx, nil, nil)

	latest, ok, err := s.FindLatestSession(ctx)
	if err != nil || !ok {
		t.Fatalf("expected a latest session, got ok=%v err=%v", ok, err)
	}
	if latest != second {
		t.Fatalf("expected most recent session %s, got %s", second, latest)
	}
}

func TestStore_FindSessionByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.CreateSession(ctx, nil, nil)

	found, ok, err := s.FindSessionByPrefix(ctx, string(id)[:8])
	if err != nil || !ok {
		t.Fatalf("expected to resolve prefix, got ok=%v err=%v", ok, err)
	}
	if found != id {
		t.Fatalf("expected resolved id %s, got %s", id, found)
	}

	if _, ok, _ := s.FindSessionByPrefix(ctx, "zzzzzzzz"); ok {
		t.Fatal("expected no match for unrelated prefix")
	}
}

func TestStore_FindSessionByPrefix_AmbiguousReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for _, id := range []string{"abc111-session-one", "abc222-session-two"} {
		row := SessionModel{ID: id, CreatedAt: now, UpdatedAt: now}
		if err := s.db.Create(&row).Error; err != nil {
			t.Fatalf("unexpected error seeding session row: %v", err)
		}
	}

	_, ok, err := s.FindSessionByPrefix(context.Background(), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ambiguous prefix matching two sessions to return not-found")
	}
}

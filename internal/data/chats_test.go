package data

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func setupStores(t *testing.T) (*UsersStore, *ChatsStore, func()) {
	c := setupDB(t)
	users := NewUsersStore(c.UsersCollection())
	chats := NewChatsStore(c.ChatsCollection(), users)
	return users, chats, func() { _ = c.Close(context.Background()) }
}

func TestGetOrCreateConversation_Idempotent(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")

	conv1, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	conv2, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("second GetOrCreateConversation failed: %v", err)
	}
	if conv1.ID != conv2.ID {
		t.Fatalf("expected same conversation, got %s and %s", conv1.ID.Hex(), conv2.ID.Hex())
	}

	// reversed pair resolves to the same conversation
	conv3, err := chats.GetOrCreateConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("reversed GetOrCreateConversation failed: %v", err)
	}
	if conv3.ID != conv1.ID {
		t.Fatalf("reversed pair produced a different conversation")
	}
}

func TestGetOrCreateConversation_Errors(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")

	if _, err := chats.GetOrCreateConversation(ctx, alice.ID, alice.ID); err != ErrSelfConversation {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}

	ghost := mustCreateUser(t, users, "ghost")
	// delete ghost so the id is dangling
	if _, err := users.coll.DeleteOne(ctx, map[string]any{"_id": ghost.ID}); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := chats.GetOrCreateConversation(ctx, alice.ID, ghost.ID); err != ErrUserNotFound {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetOrCreateConversation_Race(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")

	// both participants open the chat for the first time simultaneously;
	// every call must yield the winner's conversation, including racers
	// whose insert loses to the unique pair_key index
	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice.ID, bob.ID
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := chats.GetOrCreateConversation(ctx, a, b)
			if err != nil {
				t.Errorf("concurrent GetOrCreateConversation failed: %v", err)
				return
			}
			ids[i] = conv.ID.Hex()
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("race produced different conversations: %s vs %s", ids[0], ids[i])
		}
	}

	count, err := chats.coll.CountDocuments(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 conversation document, got %d", count)
	}
}

func TestAppendMessage(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")
	eve := mustCreateUser(t, users, "eve")

	conv, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	msg, err := chats.AppendMessage(ctx, conv.ID, alice.ID, "  hi bob  ")
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if msg.Content != "hi bob" {
		t.Fatalf("expected trimmed content, got %q", msg.Content)
	}
	if msg.ID.IsZero() {
		t.Fatal("expected assigned message id")
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0] != alice.ID {
		t.Fatalf("expected readBy seeded with sender, got %v", msg.ReadBy)
	}

	// appended message is the last chronological entry of page 1
	msgs, hasMore, err := chats.ListMessages(ctx, conv.ID, alice.ID, 1, 50)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if hasMore {
		t.Fatal("did not expect more pages")
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("expected the appended message in page 1, got %d messages", len(msgs))
	}

	// validation failures must not mutate the conversation
	if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, "   "); err != ErrEmptyContent {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, strings.Repeat("x", MaxContentBytes+1)); err != ErrContentTooLong {
		t.Fatalf("expected ErrContentTooLong, got %v", err)
	}
	// escaping grows "&" to "&amp;"; the stored form must stay within the
	// byte bound even when the raw rune count is fine
	if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, strings.Repeat("&", MaxContentRunes)); err != ErrContentTooLong {
		t.Fatalf("expected ErrContentTooLong for escape-expanded content, got %v", err)
	}
	if _, err := chats.AppendMessage(ctx, conv.ID, eve.ID, "let me in"); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	got, err := chats.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("failed sends mutated the conversation: %d messages", len(got.Messages))
	}
}

func TestListMessages_PaginationAndMarkRead(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")

	conv, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, c); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	// page 1 = the two most recent messages, chronological within the page
	msgs, hasMore, err := chats.ListMessages(ctx, conv.ID, bob.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListMessages page 1 failed: %v", err)
	}
	if !hasMore {
		t.Fatal("expected more pages")
	}
	if len(msgs) != 2 || msgs[0].Content != "four" || msgs[1].Content != "five" {
		t.Fatalf("unexpected page 1: %+v", msgs)
	}

	// fetching page 1 marked those two as read for bob
	summaries, err := chats.ListConversations(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].UnreadCount != 3 {
		t.Fatalf("expected 3 unread after reading page 1, got %d", summaries[0].UnreadCount)
	}

	// last page and beyond
	msgs, hasMore, err = chats.ListMessages(ctx, conv.ID, bob.ID, 3, 2)
	if err != nil {
		t.Fatalf("ListMessages page 3 failed: %v", err)
	}
	if hasMore {
		t.Fatal("page 3 should be the last page")
	}
	if len(msgs) != 1 || msgs[0].Content != "one" {
		t.Fatalf("unexpected page 3: %+v", msgs)
	}

	msgs, hasMore, err = chats.ListMessages(ctx, conv.ID, bob.ID, 4, 2)
	if err != nil {
		t.Fatalf("ListMessages past end failed: %v", err)
	}
	if len(msgs) != 0 || hasMore {
		t.Fatalf("expected empty page past end, got %d messages hasMore=%v", len(msgs), hasMore)
	}

	// re-reading an already-read page is a no-op
	if _, _, err := chats.ListMessages(ctx, conv.ID, bob.ID, 1, 2); err != nil {
		t.Fatalf("re-read failed: %v", err)
	}

	if _, _, err := chats.ListMessages(ctx, conv.ID, mustCreateUser(t, users, "eve").ID, 1, 2); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")

	conv, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	for _, c := range []string{"a", "b", "c"} {
		if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, c); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	changed, err := chats.MarkRead(ctx, conv.ID, bob.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !changed {
		t.Fatal("expected MarkRead to report changes")
	}

	summaries, err := chats.ListConversations(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if summaries[0].UnreadCount != 0 {
		t.Fatalf("expected 0 unread after MarkRead, got %d", summaries[0].UnreadCount)
	}

	// second call is a no-op: reader sets are monotonic
	changed, err = chats.MarkRead(ctx, conv.ID, bob.ID)
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if changed {
		t.Fatal("expected idempotent MarkRead to report no changes")
	}

	// a new message makes the count non-zero again
	if _, err := chats.AppendMessage(ctx, conv.ID, alice.ID, "d"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	summaries, err = chats.ListConversations(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if summaries[0].UnreadCount != 1 {
		t.Fatalf("expected 1 unread after new message, got %d", summaries[0].UnreadCount)
	}
}

func TestListConversations_Order(t *testing.T) {
	users, chats, cleanup := setupStores(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustCreateUser(t, users, "alice")
	bob := mustCreateUser(t, users, "bob")
	carol := mustCreateUser(t, users, "carol")

	withBob, err := chats.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}
	withCarol, err := chats.GetOrCreateConversation(ctx, alice.ID, carol.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation failed: %v", err)
	}

	if _, err := chats.AppendMessage(ctx, withBob.ID, bob.ID, "first"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := chats.AppendMessage(ctx, withCarol.ID, carol.ID, "second"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	summaries, err := chats.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	// most recent activity first
	if summaries[0].ID != withCarol.ID {
		t.Fatalf("expected carol conversation first")
	}
	if summaries[0].Participant.ID != carol.ID {
		t.Fatalf("expected carol as participant of first summary")
	}
	if summaries[0].LastMessage == nil || summaries[0].LastMessage.Content != "second" {
		t.Fatalf("unexpected last message: %+v", summaries[0].LastMessage)
	}
	if summaries[0].UnreadCount != 1 || summaries[1].UnreadCount != 1 {
		t.Fatalf("unexpected unread counts: %d, %d", summaries[0].UnreadCount, summaries[1].UnreadCount)
	}
}

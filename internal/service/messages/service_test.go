package messages

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"nijichat/internal/config"
	"nijichat/internal/models"
	"nijichat/internal/storage"
)

func TestInsertAndListOrdering(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, "u1")
	insertUser(t, db, "u2")
	svc := NewService(db)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if _, err := svc.Insert(ctx, models.Message{UserID: "u1", ConversationID: "c1", Role: models.RoleUser, Content: c}); err != nil {
			t.Fatalf("insert %s: %v", c, err)
		}
	}
	if _, err := svc.Insert(ctx, models.Message{UserID: "u1", ConversationID: "c2", Role: models.RoleAssistant, Content: "other"}); err != nil {
		t.Fatalf("insert other: %v", err)
	}
	if _, err := svc.Insert(ctx, models.Message{UserID: "u2", ConversationID: "c1", Role: models.RoleUser, Content: "foreign"}); err != nil {
		t.Fatalf("insert foreign: %v", err)
	}

	asc, err := svc.List(ctx, models.MessageFilter{UserID: "u1", ConversationID: "c1", Ascending: true})
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(asc))
	}
	for i, c := range contents {
		if asc[i].Content != c || asc[i].Role != models.RoleUser || asc[i].ConversationID != "c1" {
			t.Fatalf("message %d mismatch: %#v", i, asc[i])
		}
	}

	desc, err := svc.List(ctx, models.MessageFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("list desc: %v", err)
	}
	if len(desc) != 4 || desc[0].Content != "other" || desc[3].Content != "first" {
		t.Fatalf("unexpected desc order: %#v", desc)
	}
}

func TestInsertAssignsIDAndTime(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, "u1")
	svc := NewService(db)

	before := time.Now().UTC().Add(-time.Second)
	msg, err := svc.Insert(context.Background(), models.Message{UserID: "u1", TempID: "temp-1", Role: models.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if msg.ID == "" || msg.TempID != "" || msg.CreatedAt.Before(before) {
		t.Fatalf("unexpected stored message %#v", msg)
	}
}

func TestListKeepsLegacyRowsWithoutConversation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, "u1")
	svc := NewService(db)
	if _, err := svc.Insert(context.Background(), models.Message{UserID: "u1", Role: models.RoleUser, Content: "legacy"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := svc.List(context.Background(), models.MessageFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ConversationID != "" {
		t.Fatalf("unexpected rows %#v", got)
	}
}

func TestInsertValidation(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	svc := NewService(db)
	ctx := context.Background()

	cases := []models.Message{
		{Role: models.RoleUser, Content: "no user"},
		{UserID: "u1", Role: "system", Content: "bad role"},
		{UserID: "u1", Role: models.RoleUser, Content: "   "},
	}
	for _, c := range cases {
		if _, err := svc.Insert(ctx, c); err == nil {
			t.Fatalf("expected error for %#v", c)
		}
	}
	if _, err := svc.List(ctx, models.MessageFilter{}); err == nil {
		t.Fatalf("expected error for list without user")
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, '', ?)`,
		id, id+"@example.com", time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

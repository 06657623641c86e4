package main

import (
	"context"
	"testing"

	"github.com/Tyrowin/socialchat/internal/server"
)

// TestParseSeedUsers verifies the seed entry format and that invalid
// usernames are skipped.
func TestParseSeedUsers(t *testing.T) {
	users := parseSeedUsers([]string{"alice:Alice Smith", " bob ", "bad-name", "", "carol:"})

	if len(users) != 3 {
		t.Fatalf("Expected 3 users, got %d: %+v", len(users), users)
	}
	if users[0].Username != "alice" || users[0].KnownAs != "Alice Smith" {
		t.Errorf("Unexpected first user %+v", users[0])
	}
	if users[1].Username != "bob" || users[1].KnownAs != "bob" {
		t.Errorf("Expected KnownAs to default to the username, got %+v", users[1])
	}
	if users[2].Username != "carol" || users[2].KnownAs != "carol" {
		t.Errorf("Unexpected third user %+v", users[2])
	}
}

// TestOpenStore verifies the embedded drivers open and seed their users.
func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		store, closer, err := openStore(ctx, server.StorageConfig{Driver: server.DriverMemory, SeedUsers: []string{"alice"}})
		if err != nil {
			t.Fatal(err)
		}
		if closer != nil {
			t.Error("Expected no closer for the memory driver")
		}
		if _, err := store.FindByUsername(ctx, "alice"); err != nil {
			t.Errorf("Expected seeded user, got %v", err)
		}
	})

	t.Run("Pebble", func(t *testing.T) {
		store, closer, err := openStore(ctx, server.StorageConfig{Driver: server.DriverPebble, PebblePath: t.TempDir(), SeedUsers: []string{"bob:Bobby"}})
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = closer.Close() }()
		u, err := store.FindByUsername(ctx, "BOB")
		if err != nil || u.KnownAs != "Bobby" {
			t.Errorf("Expected seeded user, got %+v, %v", u, err)
		}
	})

	t.Run("Unknown driver", func(t *testing.T) {
		if _, _, err := openStore(ctx, server.StorageConfig{Driver: "mongo"}); err == nil {
			t.Error("Expected error for unknown driver")
		}
	})
}

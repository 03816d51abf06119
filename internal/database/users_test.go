package database

import (
	"database/sql"
	"testing"

	"github.com/indecryption/chat-node/internal/utils"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) (*sql.DB, *utils.LogsManager) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	return db, logger
}

func setupTestUsers(t *testing.T) (*UserManager, *sql.DB) {
	t.Helper()

	db, logger := setupTestDB(t)
	um, err := NewUserManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create UserManager: %v", err)
	}

	return um, db
}

func TestCreateAndGetUser(t *testing.T) {
	um, db := setupTestUsers(t)
	defer db.Close()

	user := &User{
		Username:     "alice",
		MobileNumber: "9000000001",
		PublicKey:    "cHVibGljLWtleQ==",
	}

	if err := um.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if user.ID == "" {
		t.Fatal("Expected user ID to be assigned")
	}

	retrieved, err := um.GetUserByUsername("alice")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Expected user to be retrieved, got nil")
	}
	if retrieved.MobileNumber != user.MobileNumber {
		t.Errorf("Expected mobile number %s, got %s", user.MobileNumber, retrieved.MobileNumber)
	}
	if retrieved.IsVerified {
		t.Error("Expected new user to be unverified")
	}

	byNumber, err := um.GetUserByMobileNumber("9000000001")
	if err != nil {
		t.Fatalf("Failed to get user by number: %v", err)
	}
	if byNumber == nil || byNumber.ID != user.ID {
		t.Error("Expected same user by mobile number lookup")
	}

	byID, err := um.GetUserByID(user.ID)
	if err != nil {
		t.Fatalf("Failed to get user by id: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Error("Expected same user by id lookup")
	}
}

func TestGetUserNotFound(t *testing.T) {
	um, db := setupTestUsers(t)
	defer db.Close()

	user, err := um.GetUserByUsername("ghost")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if user != nil {
		t.Error("Expected nil for unknown username")
	}
}

func TestCreateUserUniqueness(t *testing.T) {
	um, db := setupTestUsers(t)
	defer db.Close()

	first := &User{Username: "alice", MobileNumber: "9000000001", PublicKey: "a2V5"}
	if err := um.CreateUser(first); err != nil {
		t.Fatalf("Failed to create first user: %v", err)
	}

	dupName := &User{Username: "alice", MobileNumber: "9000000002", PublicKey: "a2V5"}
	if err := um.CreateUser(dupName); err != ErrUsernameTaken {
		t.Errorf("Expected ErrUsernameTaken, got %v", err)
	}

	dupNumber := &User{Username: "bob", MobileNumber: "9000000001", PublicKey: "a2V5"}
	if err := um.CreateUser(dupNumber); err != ErrNumberTaken {
		t.Errorf("Expected ErrNumberTaken, got %v", err)
	}
}

func TestSetVerified(t *testing.T) {
	um, db := setupTestUsers(t)
	defer db.Close()

	user := &User{Username: "alice", MobileNumber: "9000000001", PublicKey: "a2V5"}
	if err := um.CreateUser(user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	if err := um.SetVerified(user.ID, true); err != nil {
		t.Fatalf("Failed to set verified: %v", err)
	}

	retrieved, _ := um.GetUserByID(user.ID)
	if !retrieved.IsVerified {
		t.Error("Expected user to be verified")
	}

	if err := um.SetVerified("no-such-id", true); err == nil {
		t.Error("Expected error for unknown user id")
	}
}

func TestSearchUsers(t *testing.T) {
	um, db := setupTestUsers(t)
	defer db.Close()

	seed := []*User{
		{Username: "alice", MobileNumber: "9000000001", PublicKey: "a2V5"},
		{Username: "alicia", MobileNumber: "9000000002", PublicKey: "a2V5"},
		{Username: "bob", MobileNumber: "8111110001", PublicKey: "a2V5"},
	}
	for _, u := range seed {
		if err := um.CreateUser(u); err != nil {
			t.Fatalf("Failed to seed user %s: %v", u.Username, err)
		}
	}

	// Case-insensitive username substring
	results, err := um.SearchUsers("ALIC")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results for 'ALIC', got %d", len(results))
	}

	// Mobile number substring
	results, err = um.SearchUsers("811111")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Username != "bob" {
		t.Errorf("Expected bob for number search, got %v", results)
	}

	// Blank query returns nothing
	results, err = um.SearchUsers("   ")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results for blank query, got %d", len(results))
	}
}

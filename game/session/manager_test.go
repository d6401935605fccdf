package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/metro-sim/game/engine"
	"github.com/wricardo/metro-sim/game/service"
)

func createTestConfig() *engine.WorldConfig {
	config := &engine.WorldConfig{
		Name:            "Test Config",
		Description:     "Test configuration",
		Width:           10,
		Height:          8,
		Mode:            engine.ModeSandbox,
		StartingBalance: 500,
		Seed:            3,
	}
	config.ApplyDefaults()
	return config
}

func TestManager_Create(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	t.Run("create with custom ID", func(t *testing.T) {
		session, err := manager.Create("test-session", "test", config)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if session.ID != "test-session" {
			t.Errorf("Expected session ID 'test-session', got '%s'", session.ID)
		}
		if session.World == nil || session.Clock == nil {
			t.Fatal("Expected world and clock to be initialized")
		}
		if session.World.Clock() != engine.Clock(session.Clock) {
			t.Error("Expected the world to run on the session clock")
		}
		if session.ConfigID != "test" {
			t.Errorf("Expected config id 'test', got '%s'", session.ConfigID)
		}
	})

	t.Run("create with auto-generated ID", func(t *testing.T) {
		session, err := manager.Create("", "test", config)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		if len(session.ID) != 4 {
			t.Errorf("Expected 4-character session ID, got %q", session.ID)
		}
	})

	t.Run("duplicate session ID", func(t *testing.T) {
		_, err := manager.Create("test-session", "test", config)
		if err != ErrSessionAlreadyExists {
			t.Errorf("Expected ErrSessionAlreadyExists, got %v", err)
		}
	})

	t.Run("case-insensitive duplicate check", func(t *testing.T) {
		_, err := manager.Create("TEST-SESSION", "test", config)
		if err != ErrSessionAlreadyExists {
			t.Errorf("Expected ErrSessionAlreadyExists for case variant, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		invalidConfig := createTestConfig()
		invalidConfig.Name = ""
		if _, err := manager.Create("invalid-test", "test", invalidConfig); err == nil {
			t.Error("Expected error for invalid config")
		}
		if _, err := manager.Create("nil-test", "test", nil); err == nil {
			t.Error("Expected error for nil config")
		}
	})

	t.Run("invalid ID", func(t *testing.T) {
		if _, err := manager.Create("../escape", "test", config); err != ErrInvalidSessionID {
			t.Errorf("Expected ErrInvalidSessionID, got %v", err)
		}
	})

	t.Run("private config copy", func(t *testing.T) {
		session, err := manager.Create("copy-test", "test", config)
		if err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
		session.Config.RollingStock[0].Speed = 42
		if config.RollingStock[0].Speed == 42 {
			t.Error("Expected session config to be independent of the shared config")
		}
	})
}

func TestManager_Get(t *testing.T) {
	manager := NewManager()
	created, _ := manager.Create("get-test", "test", createTestConfig())

	t.Run("get existing session", func(t *testing.T) {
		session, err := manager.Get("get-test")
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if session != created {
			t.Errorf("Expected the created session")
		}
	})

	t.Run("case-insensitive get", func(t *testing.T) {
		session, err := manager.Get("GET-TEST")
		if err != nil {
			t.Fatalf("Failed to get session with different case: %v", err)
		}
		if session.ID != created.ID {
			t.Errorf("Expected same session regardless of case")
		}
	})

	t.Run("get non-existent session", func(t *testing.T) {
		_, err := manager.Get("nope")
		if !errors.Is(err, service.ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	t.Run("delete existing session", func(t *testing.T) {
		manager.Create("delete-me", "test", config)
		if err := manager.Delete("delete-me"); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		if _, err := manager.Get("delete-me"); err != ErrSessionNotFound {
			t.Errorf("Expected session to be gone, got %v", err)
		}
	})

	t.Run("delete non-existent session", func(t *testing.T) {
		if err := manager.Delete("missing"); err != ErrSessionNotFound {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("case-insensitive delete", func(t *testing.T) {
		manager.Create("MixedCase", "test", config)
		if err := manager.Delete("mixedcase"); err != nil {
			t.Errorf("Expected case-insensitive delete, got %v", err)
		}
	})

	t.Run("delete from memory only", func(t *testing.T) {
		manager.Create("mem", "test", config)
		if err := manager.DeleteFromMemory("MEM"); err != nil {
			t.Errorf("Expected delete from memory, got %v", err)
		}
		if err := manager.DeleteFromMemory("mem"); err != ErrSessionNotFound {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestManager_List(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	if len(manager.List()) != 0 {
		t.Error("Expected empty list initially")
	}

	for i := 0; i < 3; i++ {
		if _, err := manager.Create(fmt.Sprintf("list-%d", i), "test", config); err != nil {
			t.Fatalf("Failed to create session: %v", err)
		}
	}

	list := manager.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(list))
	}
	for i, sess := range list {
		if want := fmt.Sprintf("list-%d", i); sess.ID != want {
			t.Errorf("Expected %s at position %d, got %s", want, i, sess.ID)
		}
	}
	if manager.Count() != 3 {
		t.Errorf("Expected count 3, got %d", manager.Count())
	}
}

func TestManager_CleanupExpired(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	old, _ := manager.Create("old", "test", config)
	manager.Create("fresh", "test", config)
	old.LastAccessedAt = time.Now().Add(-2 * time.Hour)

	removed := manager.CleanupExpiredSessions(time.Hour)
	if removed != 1 {
		t.Errorf("Expected 1 expired session removed, got %d", removed)
	}
	if _, err := manager.Get("old"); err == nil {
		t.Error("Expected old session to be removed")
	}
	if _, err := manager.Get("fresh"); err != nil {
		t.Error("Expected fresh session to survive")
	}
}

func TestManager_UpdateLastAccessed(t *testing.T) {
	manager := NewManager()
	session, _ := manager.Create("touch", "test", createTestConfig())
	before := time.Now().Add(-time.Minute)
	session.LastAccessedAt = before

	if err := manager.UpdateLastAccessed("TOUCH"); err != nil {
		t.Fatalf("Failed to update last accessed: %v", err)
	}
	if !session.LastAccessedAt.After(before) {
		t.Error("Expected last accessed time to move forward")
	}
	if err := manager.UpdateLastAccessed("missing"); err != ErrSessionNotFound {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("concurrent-%d", n)
			if _, err := manager.Create(id, "test", config); err != nil {
				errs <- err
				return
			}
			if _, err := manager.Get(id); err != nil {
				errs <- err
			}
			manager.List()
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Concurrent access failed: %v", err)
	}
	if manager.Count() != 20 {
		t.Errorf("Expected 20 sessions, got %d", manager.Count())
	}
}

func TestManager_SessionIsolation(t *testing.T) {
	manager := NewManager()
	config := createTestConfig()

	a, _ := manager.Create("a", "test", config)
	b, _ := manager.Create("b", "test", config)

	if _, ok := a.World.PlaceStation(2, 2, engine.Red, ""); !ok {
		t.Fatal("Expected station to be placed")
	}
	a.Clock.Pause()

	if len(b.World.Stations()) != 0 {
		t.Error("Expected sessions to have separate worlds")
	}
	if b.Clock.IsPaused() {
		t.Error("Expected sessions to have separate clocks")
	}
}

func TestManager_SessionIDGeneration(t *testing.T) {
	manager := NewManager()
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		id, err := manager.freshID()
		if err != nil {
			t.Fatalf("freshID: %v", err)
		}
		if len(id) != 4 {
			t.Fatalf("Expected 4-character ID, got %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 40 {
		t.Errorf("Expected mostly unique IDs, got %d distinct of 50", len(seen))
	}
}

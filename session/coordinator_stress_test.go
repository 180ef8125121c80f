package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// expectedRole mirrors the deterministic store seeding below, so a watcher
// can verify that every published identity/role pair came from one
// resolution and never mixes two.
func expectedRole(uid string) Role {
	if uid == "" {
		return ""
	}
	if uid[len(uid)-1]%2 == 0 {
		return RoleOwner
	}
	return RoleAdmin
}

func TestCoordinator_ConcurrentNotificationsAndCommands(t *testing.T) {
	provider := &fakeProvider{changes: make(chan *Identity, 4096)}
	provider.authIdent = Identity{UID: "u0", Email: "u0@x.com"}

	store := newFakeRecordStore()
	for i := 0; i < 10; i++ {
		uid := fmt.Sprintf("u%d", i)
		store.records[uid] = Record{UID: uid, Role: expectedRole(uid)}
	}

	coord := newTestCoordinator(provider, store)
	ch, unsub := coord.Subscribe()

	watcherDone := make(chan error, 1)
	go func() {
		sawReady := false
		for snap := range ch {
			if sawReady && !snap.Ready {
				watcherDone <- fmt.Errorf("ready reverted to false")
				return
			}
			if snap.Ready {
				sawReady = true
			}
			if snap.Identity == nil && snap.Role != "" {
				watcherDone <- fmt.Errorf("role %q published without identity", snap.Role)
				return
			}
			if snap.Identity != nil && snap.Role != "" && snap.Role != expectedRole(snap.Identity.UID) {
				watcherDone <- fmt.Errorf("mixed pair: uid %s with role %s", snap.Identity.UID, snap.Role)
				return
			}
		}
		watcherDone <- nil
	}()

	if err := coord.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ctx := context.Background()
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		for i := 0; i < 500; i++ {
			if i%17 == 0 {
				provider.emit(nil)
				continue
			}
			uid := fmt.Sprintf("u%d", i%10)
			provider.emit(&Identity{UID: uid, Email: uid + "@x.com"})
		}
		return nil
	})

	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				if _, err := coord.Login(ctx, "u0@x.com", "password123"); err != nil {
					return fmt.Errorf("login: %w", err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		for i := 0; i < 20; i++ {
			if err := coord.Logout(ctx); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("stress workers: %v", err)
	}

	// Settle on one final notification and verify it wins outright.
	provider.emit(&Identity{UID: "u4", Email: "u4@x.com"})
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := coord.Snapshot()
		if snap.Identity != nil && snap.Identity.UID == "u4" && snap.Role == RoleOwner {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("final notification never resolved: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}

	unsub()
	if err := <-watcherDone; err != nil {
		t.Fatalf("watcher: %v", err)
	}
}

func TestSignup_ConcurrentSameIdentityCreatesOnce(t *testing.T) {
	provider := newFakeProvider()
	provider.createIdent = Identity{UID: "u7", Email: "dup@x.com"}
	store := newFakeRecordStore()
	coord := newTestCoordinator(provider, store)

	ctx := context.Background()
	g, _ := errgroup.WithContext(ctx)

	roles := make([]Role, 8)
	for i := 0; i < 8; i++ {
		requested := RoleOwner
		if i%2 == 1 {
			requested = RoleRenter
		}
		g.Go(func() error {
			result, err := coord.Signup(ctx, SignupParams{
				Email:         "dup@x.com",
				Password:      "Secret1!",
				RequestedRole: requested,
			})
			if err != nil {
				return err
			}
			roles[i] = result.Role
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent signup: %v", err)
	}

	if store.creates != 1 {
		t.Fatalf("expected exactly one record creation, got %d", store.creates)
	}
	winner := store.records["u7"].Role
	for i, role := range roles {
		if role != winner {
			t.Fatalf("signup %d returned %q, record holds %q", i, role, winner)
		}
	}
}

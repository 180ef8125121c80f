package test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"gearflow/account"
	"gearflow/idp"
	"gearflow/session"
	"gearflow/test/infra"
)

func TestSessionFlowAgainstPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn, terminate, err := infra.ProvisionPostgres(ctx)
	if errors.Is(err, infra.ErrNoDatabase) {
		t.Skipf("skipping integration test: %v", err)
	}
	if err != nil {
		t.Fatalf("provision postgres: %v", err)
	}
	defer func() {
		if err := terminate(context.Background()); err != nil {
			t.Logf("terminate warning: %v", err)
		}
	}()

	// An externally supplied database persists across runs; isolate in a
	// per-run schema so the row-count assertions start from zero.
	isolate := os.Getenv(infra.EnvDSN) != ""
	pool, teardown, err := infra.MigratedPool(ctx, dsn, isolate)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()
	defer pool.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := idp.NewService(idp.NewRepository(pool), "integration-secret", logger).
		WithInteractiveExchange(func(ctx context.Context, kind session.ProviderKind) (idp.ExternalProfile, error) {
			return idp.ExternalProfile{Email: "social@example.com", DisplayName: "Sam Social", EmailVerified: true}, nil
		})
	records := account.NewStore(pool)

	coord := session.NewCoordinator(provider, records, logger).
		WithBootstrapTimeout(5 * time.Second)

	ch, unsub := coord.Subscribe()
	defer unsub()

	if err := coord.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer coord.Close()

	// The provider reports no principal at start.
	waitSnapshot(t, ch, func(s session.Snapshot) bool {
		return s.Ready && s.Identity == nil
	})

	// Signup creates the account, the record, and drives the session.
	signedUp, err := coord.Signup(ctx, session.SignupParams{
		Email:         "alice@example.com",
		Password:      "Secret1!pass",
		DisplayName:   "Alice",
		RequestedRole: session.RoleOwner,
		Extras:        map[string]string{"invite": "beta-42"},
	})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if signedUp.Role != session.RoleOwner {
		t.Fatalf("expected role owner, got %q", signedUp.Role)
	}

	// The signup notification may resolve before or after the record write;
	// the identity itself is guaranteed either way.
	waitSnapshot(t, ch, func(s session.Snapshot) bool {
		return s.Ready && s.Identity != nil && s.Identity.UID == signedUp.Identity.UID
	})

	if n := countRows(t, ctx, pool, "user_records"); n != 1 {
		t.Fatalf("expected one user record, got %d", n)
	}

	// Login reads the role back without creating anything, and its
	// notification re-resolves the session against the existing record.
	loggedIn, err := coord.Login(ctx, "alice@example.com", "Secret1!pass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if loggedIn.Role != session.RoleOwner {
		t.Fatalf("expected role owner after login, got %q", loggedIn.Role)
	}
	if n := countRows(t, ctx, pool, "user_records"); n != 1 {
		t.Fatalf("login must not create records, got %d", n)
	}

	waitSnapshot(t, ch, func(s session.Snapshot) bool {
		return s.Identity != nil && s.Role == session.RoleOwner
	})

	// Logout clears the session; the provider's own sign-out notification
	// settles it to absent as well.
	if err := coord.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	waitSnapshot(t, ch, func(s session.Snapshot) bool {
		return s.Ready && s.Identity == nil
	})

	// Concurrent first-time social sign-ins hit the conditional create; only
	// one record may be written and every caller sees its role.
	g, gctx := errgroup.WithContext(ctx)
	results := make([]session.AuthResult, 6)
	for i := 0; i < len(results); i++ {
		g.Go(func() error {
			result, err := coord.SignInWithGoogle(gctx, session.RoleRenter)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent social sign-in: %v", err)
	}
	for i, result := range results {
		if result.Role != session.RoleRenter {
			t.Fatalf("sign-in %d returned role %q", i, result.Role)
		}
	}
	if n := countRows(t, ctx, pool, "user_records"); n != 2 {
		t.Fatalf("expected two user records total, got %d", n)
	}

	// A returning social user keeps the stored role over the requested one.
	returning, err := coord.SignInWithGoogle(ctx, session.RoleAdmin)
	if err != nil {
		t.Fatalf("returning social sign-in: %v", err)
	}
	if returning.Role != session.RoleRenter {
		t.Fatalf("expected stored role renter, got %q", returning.Role)
	}

	// Password reset issues a token for known addresses only.
	if err := coord.ResetPassword(ctx, "alice@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n := countRows(t, ctx, pool, "password_resets"); n != 1 {
		t.Fatalf("expected one reset token, got %d", n)
	}
	if err := coord.ResetPassword(ctx, "ghost@example.com"); !session.IsCredentialError(err) {
		t.Fatalf("expected CredentialError for unknown email, got %v", err)
	}
}

func waitSnapshot(t *testing.T, ch <-chan session.Snapshot, pred func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap := <-ch:
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for session snapshot")
		}
	}
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, table string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

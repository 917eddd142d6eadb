package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestEnsureCreatesOnceWithInstruments(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	user, created, err := svc.Ensure(ctx, "new@x.com", "")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !created {
		t.Fatalf("expected user to be created")
	}
	if user.DisplayName != "new" {
		t.Fatalf("expected display name from local part, got %q", user.DisplayName)
	}
	if len(user.Instruments) != DefaultInstrumentCount {
		t.Fatalf("expected %d instruments, got %d", DefaultInstrumentCount, len(user.Instruments))
	}

	again, created, err := svc.Ensure(ctx, "new@x.com", "Someone Else")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if created || again.ID != user.ID || again.DisplayName != "new" {
		t.Fatalf("expected the existing user back, got %+v created=%v", again, created)
	}
}

func TestEnsureConcurrentCreatesSingleUser(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	ids := make(chan string, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, _, err := svc.Ensure(ctx, "race@x.com", "Race")
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			ids <- u.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected one user id, saw %s and %s", first, id)
		}
	}
}

func TestLookup(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	res, err := svc.Lookup(ctx, "nobody@x.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Exists || res.HasPasskey {
		t.Fatalf("unexpected result for unknown email: %+v", res)
	}

	if _, err := SeedDemo(ctx, repo); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, _ = svc.Lookup(ctx, DemoEmail)
	if !res.Exists || res.HasPasskey || res.DisplayName != "Alex Johnson" {
		t.Fatalf("unexpected result before registration: %+v", res)
	}

	if err := repo.AddCredential(ctx, Credential{ID: []byte{1, 2, 3}, Email: DemoEmail, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("add credential: %v", err)
	}
	res, _ = svc.Lookup(ctx, DemoEmail)
	if !res.HasPasskey {
		t.Fatalf("expected hasPasskey after registration")
	}
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := SeedDemo(ctx, repo)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	second, err := SeedDemo(ctx, repo)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected seed to keep the existing account")
	}
	if len(first.Instruments) != 3 || first.Instruments[1].Brand != "Mastercard" || first.Instruments[1].Last4 != "8888" {
		t.Fatalf("unexpected demo instruments %+v", first.Instruments)
	}
}

func TestGenerateInstruments(t *testing.T) {
	for i := 0; i < 50; i++ {
		cards := GenerateInstruments(2)
		if len(cards) != 2 {
			t.Fatalf("expected two cards, got %d", len(cards))
		}
		if cards[0].Brand == cards[1].Brand {
			t.Fatalf("expected distinct brands, got %s twice", cards[0].Brand)
		}
		for _, c := range cards {
			if len(c.Last4) != 4 || c.Last4 < "1000" {
				t.Fatalf("bad last4 %q", c.Last4)
			}
			month, year, ok := strings.Cut(c.Expiry, "/")
			if !ok || len(month) != 2 || month < "01" || month > "12" || year < "27" || year > "30" {
				t.Fatalf("bad expiry %q", c.Expiry)
			}
			if c.ColorFrom == "" || c.ColorTo == "" || c.ID == "" {
				t.Fatalf("incomplete card %+v", c)
			}
		}
	}

	if got := GenerateInstruments(10); len(got) != len(cardTemplates) {
		t.Fatalf("expected count capped at template set, got %d", len(got))
	}
}

func TestCredentialLookups(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	cred := Credential{ID: []byte("cred-1"), Email: DemoEmail, SignCount: 1, CreatedAt: time.Now()}
	if err := repo.AddCredential(ctx, cred); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.AddCredential(ctx, cred); !errors.Is(err, ErrCredentialExists) {
		t.Fatalf("expected duplicate credential error, got %v", err)
	}

	if err := repo.UpdateSignCount(ctx, []byte("cred-1"), 7, false); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.FindCredential(ctx, []byte("cred-1"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.SignCount != 7 {
		t.Fatalf("expected sign count 7, got %d", got.SignCount)
	}

	if _, err := repo.FindCredential(ctx, []byte("other")); !errors.Is(err, ErrCredentialNotFound) {
		t.Fatalf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got, err := NormalizeEmail("  Demo@Example.com "); err != nil || got != "demo@example.com" {
		t.Fatalf("expected normalized email, got %q %v", got, err)
	}
	for _, bad := range []string{"", "nope", "a@", "Name <a@b.c>"} {
		if _, err := NormalizeEmail(bad); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestProfileAndInstrument(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Profile(ctx, "ghost@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	user, _, err := svc.Ensure(ctx, "card@x.com", "Card Holder")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}

	profile, err := svc.Profile(ctx, "card@x.com")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.DisplayName != "Card Holder" || len(profile.Instruments) != len(user.Instruments) {
		t.Fatalf("unexpected profile %+v", profile)
	}

	second := user.Instruments[1]
	got, err := svc.Instrument(ctx, "card@x.com", second.ID)
	if err != nil {
		t.Fatalf("instrument: %v", err)
	}
	if got != second {
		t.Fatalf("expected %+v, got %+v", second, got)
	}

	if _, err := svc.Instrument(ctx, "card@x.com", "card_missing"); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

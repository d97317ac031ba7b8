package catalog

import (
	"testing"
	"time"
)

func TestRepositorySortsNewestFirst(t *testing.T) {
	c := New(DemoSeed())

	reports := c.Reports.List()
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	want := []string{"rip-2025-q2", "rip-2025-q1", "aml-annual-2024"}
	for i, id := range want {
		if reports[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, reports[i].ID)
		}
	}

	users := c.Users.List()
	if users[0].ID != "admin-1" {
		t.Fatalf("expected user with a login first, got %s", users[0].ID)
	}
}

func TestRepositoryGetAndIsolation(t *testing.T) {
	c := New(DemoSeed())

	faq, ok := c.FAQ.Get("faq-2")
	if !ok || faq.Question != "Can we submit corrections after validation errors?" {
		t.Fatalf("unexpected faq %+v", faq)
	}
	if _, ok := c.Cases.Get("case-404"); ok {
		t.Fatalf("expected miss")
	}

	list := c.Messages.List()
	list[0].Subject = "mutated"
	if again := c.Messages.List(); again[0].Subject == "mutated" {
		t.Fatalf("listing must return a copy")
	}
}

func TestNewRepositoryStableForEqualTimestamps(t *testing.T) {
	type item struct{ id string }
	repo := NewRepository([]item{{"a"}, {"b"}, {"c"}},
		func(i item) string { return i.id },
		func(item) time.Time { return time.Time{} })
	got := repo.List()
	if got[0].id != "a" || got[2].id != "c" || repo.Len() != 3 {
		t.Fatalf("expected input order preserved, got %+v", got)
	}
}

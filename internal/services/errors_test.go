package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cinesync/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrStorage, "changes", "load", "open catalog", base)
	if !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"changes", "load", "open catalog"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestAbortsClassification(t *testing.T) {
	if !services.Aborts(services.Wrap(services.ErrSelection, "init", "select", "", errors.New("503"))) {
		t.Fatal("expected selection failure to abort")
	}
	if services.Aborts(services.Wrap(services.ErrValidation, "init", "fetch", "bad payload", nil)) {
		t.Fatal("expected validation failure to stay record scoped")
	}
	if services.Aborts(nil) {
		t.Fatal("nil error must not abort")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := services.WithMovieID(services.WithRunID(context.Background(), "abc"), 42)
	if id, ok := services.RunIDFromContext(ctx); !ok || id != "abc" {
		t.Fatalf("unexpected run id %q (%v)", id, ok)
	}
	if id, ok := services.MovieIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected movie id %d (%v)", id, ok)
	}
	if _, ok := services.ModeFromContext(ctx); ok {
		t.Fatal("mode should be absent")
	}
	if services.WithMode(ctx, "") != ctx {
		t.Fatal("empty mode should leave context untouched")
	}
}

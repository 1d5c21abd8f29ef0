package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
)

func TestServiceGetAndAvailability(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, product.Product{ID: "a", Name: "A", Price: 1, Secret: "s", Available: true}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := svc.Create(ctx, product.Product{ID: "b", Name: "B", Price: 1, Secret: "s"}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := svc.GetAvailable(ctx, "b"); !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}
	if p, err := svc.GetAvailable(ctx, "a"); err != nil || p.ID != "a" {
		t.Fatalf("get available: %v %+v", err, p)
	}

	list, err := svc.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("unexpected available list %+v", list)
	}
}

func TestServiceCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil)
	cases := []product.Product{
		{ID: "x", Secret: "s"},
		{ID: "x", Name: "X", Price: -1, Secret: "s"},
		{ID: "x", Name: "X"},
	}
	for _, p := range cases {
		if _, err := svc.Create(context.Background(), p); err == nil {
			t.Fatalf("expected validation error for %+v", p)
		}
	}
}

func TestLoadFixtures(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	n, err := svc.LoadFixtures(ctx, "testdata/products.yaml")
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 products, got %d", n)
	}

	notes, err := svc.Get(ctx, "notes")
	if err != nil {
		t.Fatalf("get notes: %v", err)
	}
	if notes.Price != 9.99 || notes.Secret != "notes-secret" || !notes.Available {
		t.Fatalf("unexpected fixture %+v", notes)
	}
	clock, _ := svc.Get(ctx, "clock")
	if !clock.IsFreeware() {
		t.Fatalf("clock should be free")
	}

	n, err = svc.LoadFixtures(ctx, "testdata/products.yaml")
	if err != nil {
		t.Fatalf("reload fixtures: %v", err)
	}
	if n != 0 {
		t.Fatalf("reload created %d products, want 0", n)
	}

	if _, err := svc.LoadFixtures(ctx, "testdata/missing.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

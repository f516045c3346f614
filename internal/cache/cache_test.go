package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"github.com/MrWong99/earshot/internal/cache"
	"github.com/MrWong99/earshot/internal/entity"
)

func roster(t *testing.T) (*entity.MemStore, entity.Character) {
	t.Helper()
	store := entity.NewMemStore()
	ch, err := store.Add(context.Background(), entity.Character{ID: "c-mara", Name: "Mara", Aliases: []string{"The Archivist"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	return store, ch
}

func TestCharacters_MissPopulatesCache(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store, want := roster(t)
	r := cache.NewCharacters(store, cache.NewClient(db, cache.Config{TTL: time.Minute}))

	mock.ExpectGet("earshot:character:mara").RedisNil()
	mock.ExpectSet("earshot:character:mara", "c-mara", time.Minute).SetVal("OK")

	got, err := r.FindByName(context.Background(), " Mara ")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCharacters_Hit(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store, _ := roster(t)
	r := cache.NewCharacters(store, cache.NewClient(db, cache.Config{}))

	mock.ExpectGet("earshot:character:the archivist").SetVal("c-mara")

	got, err := r.FindByName(context.Background(), "The Archivist")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got.Name != "Mara" {
		t.Errorf("Name = %q, want Mara", got.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCharacters_NegativeEntries(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store, _ := roster(t)
	r := cache.NewCharacters(store, cache.NewClient(db, cache.Config{TTL: time.Minute}))

	mock.ExpectGet("earshot:character:zork").RedisNil()
	mock.ExpectSet("earshot:character:zork", "-", time.Minute).SetVal("OK")
	mock.ExpectGet("earshot:character:zork").SetVal("-")

	for i := range 2 {
		if _, err := r.FindByName(context.Background(), "Zork"); !errors.Is(err, entity.ErrNotFound) {
			t.Fatalf("lookup %d: err = %v, want ErrNotFound", i, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCharacters_RedisErrorFallsThrough(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store, _ := roster(t)
	r := cache.NewCharacters(store, cache.NewClient(db, cache.Config{}))

	mock.ExpectGet("earshot:character:mara").SetErr(errors.New("connection refused"))

	got, err := r.FindByName(context.Background(), "Mara")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got.ID != "c-mara" {
		t.Errorf("ID = %q, want c-mara", got.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCharacters_StaleEntry(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store, _ := roster(t)
	r := cache.NewCharacters(store, cache.NewClient(db, cache.Config{TTL: time.Minute}))

	mock.ExpectGet("earshot:character:mara").SetVal("c-deleted")
	mock.ExpectSet("earshot:character:mara", "c-mara", time.Minute).SetVal("OK")

	got, err := r.FindByName(context.Background(), "Mara")
	if err != nil || got.ID != "c-mara" {
		t.Fatalf("FindByName = %+v, %v", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCharacters_Disabled(t *testing.T) {
	t.Parallel()

	store, _ := roster(t)
	r := cache.NewCharacters(store, nil)
	if _, err := r.FindByName(context.Background(), "mara"); err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if err := r.Forget(context.Background(), "mara"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
}

func TestClient_Publish(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	c := cache.NewClient(db, cache.Config{})

	mock.ExpectPublish("earshot:segments:table-1", `{"segments":[]}`).SetVal(1)
	if err := c.Publish(context.Background(), "table-1", []byte(`{"segments":[]}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	mock.ExpectPublish("earshot:segments:table-1", "x").SetErr(errors.New("down"))
	if err := c.Publish(context.Background(), "table-1", []byte("x")); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestOpen_Disabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{name: "empty url", url: ""},
		{name: "invalid url", url: "http://not-redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := cache.Open(context.Background(), cache.Config{URL: tt.url})
			if c.Enabled() {
				t.Fatal("client should be disabled")
			}
			if err := c.Publish(context.Background(), "s", []byte("{}")); err != nil {
				t.Errorf("Publish on disabled client: %v", err)
			}
			if err := c.Ping(context.Background()); err != nil {
				t.Errorf("Ping on disabled client: %v", err)
			}
			if err := c.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}

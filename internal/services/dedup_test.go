package services

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := d.IsNew(ctx, "m-1"); !ok {
		t.Fatal("first sighting should be new")
	}
	if ok, _ := d.IsNew(ctx, "m-1"); ok {
		t.Fatal("second sighting should not be new")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := d.IsNew(ctx, "m-1"); !ok {
		t.Fatal("entry should expire after the ttl")
	}
}

func TestNewRedisDeduperFromURL_InvalidURL(t *testing.T) {
	if _, err := NewRedisDeduperFromURL(context.Background(), "not a url", 0); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

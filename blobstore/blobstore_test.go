package blobstore

import (
	"context"
	"testing"

	"github.com/bxcodec/faker/v4"
)

// fakeBlob is a structurally varied stand-in for an encoded node, faked
// via faker rather than hand-written so field shapes stay varied.
type fakeBlob struct {
	Key   string
	Value string
	Tags  []string
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUploadResolveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var fb fakeBlob
	if err := faker.FakeData(&fb); err != nil {
		t.Fatal(err)
	}
	b := []byte(fb.Key + fb.Value)

	h, err := s.Upload(ctx, b)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	got, err := s.Resolve(ctx, h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if string(got) != string(b) {
		t.Errorf("Resolve = %q, want %q", got, b)
	}
}

func TestUploadIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	h1, err := s.Upload(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.Upload(ctx, []byte("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("Upload of identical bytes produced different handles: %q vs %q", h1, h2)
	}
}

func TestDeleteThenResolveFails(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	h, err := s.Upload(ctx, []byte("gone soon"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(ctx, h); err == nil {
		t.Errorf("Resolve after Delete succeeded, want an error")
	}
}

func TestDeleteAbsentHandleIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := s.Delete(ctx, "does-not-exist"); err != nil {
		t.Errorf("Delete of absent handle returned %v, want nil", err)
	}
}

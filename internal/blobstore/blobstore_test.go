package blobstore

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

func TestFSStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	keys := []string{
		"production/photos/S1/previews/b.jpg",
		"production/photos/S1/a.jpg",
		"production/photos/S2/c.jpg",
	}
	for _, k := range keys {
		url, err := s.Put(ctx, k, []byte(k), "image/jpeg")
		if err != nil {
			t.Fatalf("Put(%s) error = %v", k, err)
		}
		if url == "" {
			t.Errorf("Put(%s) returned empty url", k)
		}
	}

	data, err := s.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != keys[0] {
		t.Errorf("Get() = %q", data)
	}

	got, err := s.List(ctx, "production/photos/S1/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"production/photos/S1/a.jpg", "production/photos/S1/previews/b.jpg"}
	if !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}

	empty, err := s.List(ctx, "staging/")
	if err != nil || len(empty) != 0 {
		t.Errorf("List(staging) = %v, %v", empty, err)
	}
}

func TestFSStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	s, _ := NewFSStore(t.TempDir())

	if _, err := s.Put(ctx, "k.jpg", []byte("one"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, "k.jpg", []byte("two"), ""); err != nil {
		t.Fatal(err)
	}
	data, _ := s.Get(ctx, "k.jpg")
	if string(data) != "two" {
		t.Errorf("Get() = %q, want two", data)
	}
}

func TestFSStore_NotFound(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())
	_, err := s.Get(context.Background(), "missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s, _ := NewFSStore(t.TempDir())

	tests := []string{
		"../escape.jpg",
		"a/../../escape.jpg",
		"/etc/passwd",
		"",
		"..",
		"a\x00b",
	}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			if _, err := s.Put(context.Background(), key, []byte("x"), ""); err == nil {
				t.Errorf("Put(%q) succeeded, want error", key)
			}
			if _, err := s.Get(context.Background(), key); err == nil || errors.Is(err, ErrNotFound) {
				t.Errorf("Get(%q) error = %v, want invalid key", key, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BlobConfig
		wantErr bool
	}{
		{"fs", config.BlobConfig{Driver: "fs", Dir: t.TempDir()}, false},
		{"s3", config.BlobConfig{Driver: "s3", Endpoint: "https://s3.example.com", Bucket: "photos", AccessKey: "a", SecretKey: "b", UseSSL: true}, false},
		{"s3 missing bucket", config.BlobConfig{Driver: "s3", Endpoint: "s3.example.com"}, true},
		{"fs missing dir", config.BlobConfig{Driver: "fs"}, true},
		{"unknown", config.BlobConfig{Driver: "ftp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package testutil

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"todo-api/internal/events"
	"todo-api/internal/storage"
)

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.Event

	PublishErr error
}

func (p *RecordingPublisher) Publish(_ context.Context, event events.Event) error {
	if p.PublishErr != nil {
		return p.PublishErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Events returns a copy of what has been published so far.
func (p *RecordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

// FakeStorage is an in-memory storage.Service.
type FakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	PutErr error
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{objects: make(map[string][]byte)}
}

func (s *FakeStorage) PutObject(_ context.Context, body io.Reader, opts storage.PutOptions) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[opts.Bucket+"/"+opts.Key] = data
	return fmt.Sprintf("s3://%s/%s", opts.Bucket, opts.Key), nil
}

func (s *FakeStorage) ListObjects(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	objects := []storage.ObjectInfo{}
	for name, data := range s.objects {
		key, ok := strings.CutPrefix(name, bucket+"/")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *FakeStorage) DeletePrefix(_ context.Context, bucket, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for name := range s.objects {
		if strings.HasPrefix(name, bucket+"/"+prefix) {
			delete(s.objects, name)
			deleted++
		}
	}
	return deleted, nil
}

func (s *FakeStorage) GetObjectURL(_ context.Context, bucket, key string, expires time.Duration) (string, error) {
	return fmt.Sprintf("https://%s.example.test/%s?expires=%d", bucket, key, int(expires.Seconds())), nil
}

// Object returns the stored bytes for bucket/key.
func (s *FakeStorage) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+key]
	return data, ok
}

var (
	_ events.Publisher = (*RecordingPublisher)(nil)
	_ storage.Service  = (*FakeStorage)(nil)
)

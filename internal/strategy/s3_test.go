package strategy

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeUploader records uploads and can fail a specific key.
type fakeUploader struct {
	mu      sync.Mutex
	keys    []string
	bodies  map[string]string
	failKey string
	failErr error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{bodies: make(map[string]string)}
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := *input.Key
	if key == f.failKey {
		return nil, f.failErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.keys = append(f.keys, key)
	f.bodies[key] = string(data)
	return &manager.UploadOutput{Location: "https://" + *input.Bucket + "/" + key}, nil
}

func (f *fakeUploader) sortedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := append([]string(nil), f.keys...)
	sort.Strings(keys)
	return keys
}

func TestS3Strategy_UploadsEveryArtifact(t *testing.T) {
	rc, cancels, _ := strategyHarness(t)
	arts := writeArtifacts(t, "api", "worker")

	up := newFakeUploader()
	s := NewS3Strategy(up, "releases", "v2")
	if ok := runToCompletion(t, rc, s.Task(rc, arts, false)); !ok {
		t.Fatalf("outcome = false, want success")
	}

	want := []string{"v2/api/api.bin", "v2/worker/worker.bin"}
	got := up.sortedKeys()
	if len(got) != len(want) {
		t.Fatalf("uploaded keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if up.bodies["v2/api/api.bin"] != "artifact-api" {
		t.Errorf("api body = %q, want %q", up.bodies["v2/api/api.bin"], "artifact-api")
	}
	if n := cancels.len(); n != 0 {
		t.Errorf("live cancel hooks after completion = %d, want 0", n)
	}
}

func TestS3Strategy_FailureStopsRemainingUploads(t *testing.T) {
	rc, _, _ := strategyHarness(t)
	arts := writeArtifacts(t, "api", "worker")

	up := newFakeUploader()
	up.failKey = "api/api.bin"
	up.failErr = errors.New("access denied")
	s := NewS3Strategy(up, "releases", "")
	if ok := runToCompletion(t, rc, s.Task(rc, arts, false)); ok {
		t.Fatalf("outcome = true, want failure")
	}

	if keys := up.sortedKeys(); len(keys) != 0 {
		t.Errorf("uploads after failure = %v, want none", keys)
	}
}

func TestS3Strategy_CancelledUploadIsNotAnError(t *testing.T) {
	rc, cancels, buf := strategyHarness(t)
	arts := writeArtifacts(t, "api")

	started := make(chan struct{})
	up := &blockingUploader{started: started}
	s := NewS3Strategy(up, "releases", "")
	tk := s.Task(rc, arts, false)
	rc.Scheduler.Submit(tk)

	<-started
	cancels.fire()
	deadline := time.Now().Add(30 * time.Second)
	for !tk.Done() {
		if time.Now().After(deadline) {
			t.Fatalf("cancelled upload did not drain")
		}
		rc.Scheduler.Tick()
		time.Sleep(time.Millisecond)
	}

	if ok, _ := tk.Value().(bool); ok {
		t.Errorf("outcome = true, want false after cancellation")
	}
	if got := buf.String(); !strings.Contains(got, "upload cancelled") {
		t.Errorf("expected cancellation log, got: %s", got)
	}
}

// blockingUploader blocks until its context is cancelled.
type blockingUploader struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

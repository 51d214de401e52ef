package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"pocketdb/internal/snapshot"
)

type fakeClient struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut error
	failDel error
}

func newFakeClient() *fakeClient { return &fakeClient{objects: make(map[string][]byte)} }

func (f *fakeClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.failDel != nil {
		return nil, f.failDel
	}
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	sink := NewWithClient(client, "bucket", "")
	if b, k := sink.Location(); b != "bucket" || k != DefaultKey {
		t.Fatalf("unexpected location %s/%s", b, k)
	}
	if sink.Driver() != snapshot.DriverS3 {
		t.Fatalf("unexpected driver %s", sink.Driver())
	}
	if _, err := sink.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sink.Save(ctx, []byte("blob-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := sink.Save(ctx, []byte("blob-2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := sink.Load(ctx)
	if err != nil || string(got) != "blob-2" {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := sink.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := sink.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestSinkErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	sink := NewWithClient(client, "bucket", "k")
	client.failPut = errors.New("denied")
	if err := sink.Save(ctx, []byte("x")); err == nil {
		t.Fatalf("expected put failure")
	}
	client.failDel = &smithy.GenericAPIError{Code: "NoSuchKey"}
	if err := sink.Remove(ctx); err != nil {
		t.Fatalf("missing object delete should be ignored: %v", err)
	}
	client.failDel = errors.New("denied")
	if err := sink.Remove(ctx); err == nil {
		t.Fatalf("expected delete failure")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	t.Setenv("POCKETDB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected env bucket error")
	}
}

func TestNewBuildsClient(t *testing.T) {
	sink, err := New(context.Background(), Config{
		Bucket:          "b",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := sink.client.(*s3.Client); !ok {
		t.Fatalf("expected real s3 client, got %T", sink.client)
	}
}

package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeAPI records calls and stores object bodies in memory.
type fakeAPI struct {
	mu       sync.Mutex
	objects  map[string][]byte
	parts    map[int32][]byte
	aborted  bool
	failPart int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte), parts: make(map[int32][]byte)}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeAPI) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	n := aws.ToInt32(in.PartNumber)
	if f.failPart != 0 && n == f.failPart {
		return nil, fmt.Errorf("connection reset")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[n] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", n))}, nil
}

func (f *fakeAPI) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var data []byte
	for _, p := range in.MultipartUpload.Parts {
		data = append(data, f.parts[aws.ToInt32(p.PartNumber)]...)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeAPI) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	return &s3.AbortMultipartUploadOutput{}, nil
}

func writeFile(t *testing.T, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url, bucket, prefix string
		wantErr             bool
	}{
		{"s3://bucket", "bucket", "", false},
		{"s3://bucket/", "bucket", "", false},
		{"s3://bucket/a/b/", "bucket", "a/b", false},
		{"gs://bucket/a", "", "", true},
		{"s3:///a", "", "", true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseURL(tt.url)
		if (err != nil) != tt.wantErr || bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseURL(%q) = %q, %q, %v", tt.url, bucket, prefix, err)
		}
	}
}

func TestUploader_SmallFile(t *testing.T) {
	api := newFakeAPI()
	u, err := NewUploader(NewClientWithAPI(api, Config{PartSize: 1024}), "s3://results/run1")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}

	path, data := writeFile(t, "genparticles.parquet", 100)
	remote, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if remote != "s3://results/run1/genparticles.parquet" {
		t.Errorf("remote = %s", remote)
	}
	if got := api.objects["results/run1/genparticles.parquet"]; string(got) != string(data) {
		t.Errorf("stored %d bytes, want %d", len(got), len(data))
	}
}

func TestUploader_Multipart(t *testing.T) {
	api := newFakeAPI()
	u, err := NewUploader(NewClientWithAPI(api, Config{PartSize: 1000}), "s3://results")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}

	path, data := writeFile(t, "big.parquet", 2500)
	if _, err := u.Upload(context.Background(), path); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(api.parts) != 3 {
		t.Errorf("Expected 3 parts, got %d", len(api.parts))
	}
	if got := api.objects["results/big.parquet"]; string(got) != string(data) {
		t.Errorf("reassembled %d bytes, want %d", len(got), len(data))
	}
	if api.aborted {
		t.Error("Successful upload should not abort")
	}
}

func TestUploader_MultipartFailureAborts(t *testing.T) {
	api := newFakeAPI()
	api.failPart = 2
	u, err := NewUploader(NewClientWithAPI(api, Config{PartSize: 1000}), "s3://results")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}

	path, _ := writeFile(t, "big.parquet", 2500)
	if _, err := u.Upload(context.Background(), path); err == nil {
		t.Fatal("Expected upload failure")
	}
	if !api.aborted {
		t.Error("Failed multipart upload should be aborted")
	}
	if _, ok := api.objects["results/big.parquet"]; ok {
		t.Error("Failed upload must not produce an object")
	}
}

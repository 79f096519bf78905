package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/storeflow/storeflow/pkg/interfaces"
)

// fakeAPI is an in-memory bucket.
type fakeAPI struct {
	objects map[string][]byte
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte)}
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		input      string
		wantBucket string
		wantPrefix string
		wantErr    bool
	}{
		{"s3://lake/raw", "lake", "raw", false},
		{"s3://lake/raw/2024/", "lake", "raw/2024", false},
		{"s3://lake", "lake", "", false},
		{"data/raw", "", "", true},
		{"gs://lake/raw", "", "", true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseURL(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if bucket != tt.wantBucket || prefix != tt.wantPrefix {
			t.Errorf("ParseURL(%q) = %q, %q, want %q, %q", tt.input, bucket, prefix, tt.wantBucket, tt.wantPrefix)
		}
	}
}

func TestClient_PutGetExists(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	c := NewWithAPI(Config{Bucket: "lake", Prefix: "/processed/"}, api)

	if err := c.Put(ctx, "dim_users.csv", bytes.NewBufferString("user_id\n1\n")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := api.objects["processed/dim_users.csv"]; !ok {
		t.Errorf("object stored under %v, want processed/dim_users.csv", api.objects)
	}

	ok, err := c.Exists(ctx, "dim_users.csv")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true", ok, err)
	}
	ok, err = c.Exists(ctx, "fact_orders.csv")
	if err != nil || ok {
		t.Errorf("Exists(missing) = %v, %v, want false, nil", ok, err)
	}

	rc, err := c.Get(ctx, "dim_users.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "user_id\n1\n" {
		t.Errorf("Get() = %q", data)
	}

	if _, err := c.Get(ctx, "fact_orders.csv"); !errors.Is(err, interfaces.ErrObjectNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrObjectNotFound", err)
	}

	if got := c.Location("dim_users.csv"); got != "s3://lake/processed/dim_users.csv" {
		t.Errorf("Location() = %q", got)
	}
}

func TestClient_PutError(t *testing.T) {
	api := newFakeAPI()
	api.putErr = errors.New("access denied")
	c := NewWithAPI(Config{Bucket: "lake"}, api)

	if err := c.Put(context.Background(), "x.csv", bytes.NewBufferString("x")); err == nil {
		t.Error("Put() should surface the API error")
	}
}

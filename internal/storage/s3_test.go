package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeS3 is a map-backed s3API.
type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
	delErr  error
	lastIn  *s3.PutObjectInput
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.lastIn = in
	b, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = b
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(b)),
		ContentType: aws.String(f.types[aws.ToString(in.Key)]),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.delErr != nil {
		return nil, f.delErr
	}
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := &S3Store{client: fake, bucket: "proofs"}

	if err := s.Put(ctx, "visits/a.jpg", []byte("img"), Meta{ContentType: "image/jpeg", Fields: map[string]string{"entry-id": "e1"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if aws.ToString(fake.lastIn.Bucket) != "proofs" || fake.lastIn.Metadata["entry-id"] != "e1" {
		t.Fatalf("unexpected PutObjectInput: %+v", fake.lastIn)
	}
	obj, err := s.Get(ctx, "visits/a.jpg")
	if err != nil || string(obj.Data) != "img" || obj.ContentType != "image/jpeg" {
		t.Fatalf("Get = %+v, %v", obj, err)
	}
	if err := s.Delete(ctx, "visits/a.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "visits/a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3Store_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := &S3Store{client: fake, bucket: "b"}

	fake.putErr = errors.New("network down")
	if err := s.Put(ctx, "k", []byte("x"), Meta{}); err == nil {
		t.Fatalf("expected put error")
	}

	fake.delErr = &smithy.GenericAPIError{Code: "NotFound", Message: "gone"}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("NotFound on delete should be success, got %v", err)
	}
	fake.delErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}
	if err := s.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected AccessDenied to surface")
	}
}

func TestNewS3Store_UsesLoader(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var called bool
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		called = true
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			if err := fn(&lo); err != nil {
				return aws.Config{}, err
			}
		}
		if lo.Region != "eu-west-1" || lo.Credentials == nil {
			t.Fatalf("unexpected load options: region=%q creds=%v", lo.Region, lo.Credentials)
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}

	s, err := NewS3Store(context.Background(), S3Options{
		Bucket: "b", Region: "eu-west-1", Endpoint: "http://127.0.0.1:9000",
		AccessKey: "minio", SecretKey: "minio123", PathStyle: true,
	})
	if err != nil || !called || s.bucket != "b" {
		t.Fatalf("NewS3Store = %+v, %v (called=%v)", s, err, called)
	}

	loadDefaultAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}
	if _, err := NewS3Store(context.Background(), S3Options{Bucket: "b"}); err == nil {
		t.Fatalf("expected loader error to surface")
	}
}

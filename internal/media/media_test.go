package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyderes/social-autopilot/internal/config"
)

type fakeUploader struct {
	s3manageriface.UploaderAPI
	input *s3manager.UploadInput
	body  []byte
	err   error
}

func (f *fakeUploader) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/" + aws.StringValue(in.Key)}, nil
}

func TestS3Store_RehostDownloadsAndUploads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	up := &fakeUploader{}
	s := NewS3StoreWithUploader(config.MediaConfig{Bucket: "media", Prefix: "drafts/"}, up)

	url, err := s.Rehost(context.Background(), "d1", server.URL+"/tmp.png")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/drafts/d1.png", url)
	assert.Equal(t, "media", aws.StringValue(up.input.Bucket))
	assert.Equal(t, "image/png", aws.StringValue(up.input.ContentType))
	assert.Equal(t, []byte("png-bytes"), up.body)
}

func TestS3Store_PublicBaseAndDataURL(t *testing.T) {
	up := &fakeUploader{}
	s := NewS3StoreWithUploader(config.MediaConfig{Bucket: "media", Prefix: "img", PublicBaseURL: "https://cdn.example.com/"}, up)

	url, err := s.Rehost(context.Background(), "d2", "data:image/jpeg;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/img/d2.jpg", url)
	assert.Equal(t, []byte("hello"), up.body)
}

func TestS3Store_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := NewS3StoreWithUploader(config.MediaConfig{Bucket: "media"}, &fakeUploader{})
	_, err := s.Rehost(context.Background(), "d3", server.URL)
	assert.ErrorContains(t, err, "status 404")

	s = NewS3StoreWithUploader(config.MediaConfig{Bucket: "media"}, &fakeUploader{err: errors.New("access denied")})
	_, err = s.Rehost(context.Background(), "d4", "data:image/png;base64,aGVsbG8=")
	assert.ErrorContains(t, err, "access denied")

	_, err = s.Rehost(context.Background(), "d5", "data:text/plain,hello")
	assert.ErrorContains(t, err, "unsupported data URL")
}

func TestNewS3Store_Disabled(t *testing.T) {
	s, err := NewS3Store(config.MediaConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)
}

package imagestore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), 16)
	require.NoError(t, err)

	ref, err := s.Put(ctx, "records/r-1", "image/png", []byte("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "local://records/r-1", ref)

	img, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, int64(9), img.Size())

	_, err = s.Get(ctx, "local://records/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, "big", "", bytes.Repeat([]byte("x"), 17))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = s.Put(ctx, "empty", "", nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLocalStoreKeepsKeysInside(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir, 1024)
	require.NoError(t, err)

	path, err := s.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir))
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = io.WriteString(w, "jpeg")
		case "/huge.jpg":
			_, _ = w.Write(bytes.Repeat([]byte("x"), 64))
		case "/bounce.jpg":
			http.Redirect(w, r, r.URL.Query().Get("to"), http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	f := NewHTTPFetcher(srv.Client(), 32, []string{u.Host})
	ctx := context.Background()

	img, err := f.Get(ctx, srv.URL+"/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)

	_, err = f.Get(ctx, srv.URL+"/huge.jpg")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Get(ctx, srv.URL+"/gone.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	img, err = f.Get(ctx, srv.URL+"/bounce.jpg?to=/ok.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(img.Data))
}

func TestHTTPFetcherAllowList(t *testing.T) {
	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "metadata")
	}))
	defer internal.Close()
	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL+"/latest/meta-data", http.StatusFound)
	}))
	defer public.Close()

	u, err := url.Parse(public.URL)
	require.NoError(t, err)
	ctx := context.Background()

	f := NewHTTPFetcher(public.Client(), 32, []string{u.Host})
	_, err = f.Get(ctx, internal.URL+"/latest/meta-data")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	// redirects off the list are refused too
	_, err = f.Get(ctx, public.URL+"/bag.jpg")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	closed := NewHTTPFetcher(public.Client(), 32, nil)
	_, err = closed.Get(ctx, public.URL+"/bag.jpg")
	assert.ErrorIs(t, err, ErrHostNotAllowed)

	assert.Zero(t, hits.Load())
}

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/jpeg"),
	}, nil
}

func TestS3StoreAndRouter(t *testing.T) {
	ctx := context.Background()
	s3Store := &S3Store{client: &fakeObjects{objects: map[string][]byte{}}, bucket: "eco", maxBytes: 1024}
	local, err := NewLocalStore(t.TempDir(), 1024)
	require.NoError(t, err)

	router := NewRouter(s3Store, s3Scheme).Handle(localScheme, local)

	ref, err := router.Put(ctx, "records/r-2", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "s3://eco/records/r-2", ref)

	img, err := router.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), img.Data)

	_, err = router.Get(ctx, "s3://eco/records/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	localRef, err := local.Put(ctx, "a", "", []byte("local"))
	require.NoError(t, err)
	img, err = router.Get(ctx, localRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("local"), img.Data)

	_, err = router.Get(ctx, "ftp://host/file")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
	_, err = router.Get(ctx, "no-scheme")
	assert.ErrorIs(t, err, ErrUnsupportedRef)
}

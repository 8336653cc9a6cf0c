package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrTooLarge       = errors.New("image exceeds size limit")
	ErrUnsupportedRef = errors.New("unsupported image reference")
	ErrNotFound       = errors.New("image not found")
	ErrEmpty          = errors.New("image is empty")
	ErrHostNotAllowed = errors.New("image host is not allowed")
)

// Image is a fetched image held in memory.
type Image struct {
	Data        []byte
	ContentType string
}

func (i *Image) Size() int64 { return int64(len(i.Data)) }

// Store persists uploaded images and resolves references back to bytes.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, ref string) (*Image, error)
}

// Getter is the read side, also satisfied by HTTPFetcher.
type Getter interface {
	Get(ctx context.Context, ref string) (*Image, error)
}

// Router writes to a primary store and reads by reference scheme.
type Router struct {
	primary Store
	getters map[string]Getter
}

func NewRouter(primary Store, primaryScheme string) *Router {
	return &Router{
		primary: primary,
		getters: map[string]Getter{primaryScheme: primary},
	}
}

// Handle registers a reader for an additional scheme.
func (r *Router) Handle(scheme string, g Getter) *Router {
	r.getters[scheme] = g
	return r
}

func (r *Router) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return r.primary.Put(ctx, key, contentType, data)
}

func (r *Router) Get(ctx context.Context, ref string) (*Image, error) {
	scheme, _, ok := strings.Cut(ref, "://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}
	g, ok := r.getters[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedRef, scheme)
	}
	return g.Get(ctx, ref)
}

// readCapped reads at most limit bytes and fails if more are available.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

func checkPut(data []byte, limit int64) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if int64(len(data)) > limit {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return nil
}

func sniffContentType(contentType string, data []byte) string {
	if contentType != "" {
		return contentType
	}
	return http.DetectContentType(data)
}

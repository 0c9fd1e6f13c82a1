package objectstore

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/mweiss17/wormulon/internal/platform/gcp"
	"github.com/mweiss17/wormulon/internal/platform/logger"
)

// touchInterval is the minimum spacing between two touches of the same key,
// grounded on the original bucket.touch()'s "time.time() - self.last_touch > 5"
// throttle; here it's expressed per-key with rate.Sometimes instead of one
// global timestamp, which was a bug in the original (a busy job starved
// touches for every other job sharing the bucket client).
const touchInterval = 5 * time.Second

// GCSStore is the production Store backed by Google Cloud Storage (or the
// fake-gcs-server emulator, selected by gcp.ResolveObjectStorageConfigFromEnv).
type GCSStore struct {
	client *gcp.Client
	log    *logger.Logger
	retry  backoff.BackOff

	mu      sync.Mutex
	touches map[string]*rate.Sometimes
}

// NewGCSStore builds a Store against the named bucket.
func NewGCSStore(log *logger.Logger, bucket string) (*GCSStore, error) {
	client, err := gcp.NewClient(log, bucket)
	if err != nil {
		return nil, err
	}
	return &GCSStore{
		client:  client,
		log:     log,
		touches: make(map[string]*rate.Sometimes),
	}, nil
}

// withRetry runs op under a capped exponential backoff (base ~5s, cap 60s,
// at most 6 attempts), the policy spec.md §4.2/§7 calls for on transient
// object-store errors.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !Retryable(newError(classify(err), "", err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(6),
	)
	return err
}

func (s *GCSStore) Upload(ctx context.Context, key string, body []byte) error {
	err := withRetry(ctx, func() error { return s.client.Upload(ctx, key, body) })
	if err != nil {
		return newError(classify(err), key, err)
	}
	return nil
}

func (s *GCSStore) UploadIfAbsent(ctx context.Context, key string, body []byte) error {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Upload(ctx, key, body)
}

func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := withRetry(ctx, func() error {
		b, err := s.client.Download(ctx, key)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, newError(classify(err), key, err)
	}
	return out, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := withRetry(ctx, func() error {
		e, err := s.client.Exists(ctx, key)
		if err != nil {
			return err
		}
		exists = e
		return nil
	})
	if err != nil {
		return false, newError(classify(err), key, err)
	}
	return exists, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := withRetry(ctx, func() error {
		err := s.client.Delete(ctx, key)
		if gcp.IsNotExist(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return newError(classify(err), key, err)
	}
	return nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	metas, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if err := s.Delete(ctx, m.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]Metadata, error) {
	var out []Metadata
	err := withRetry(ctx, func() error {
		attrs, names, err := s.client.List(ctx, prefix)
		if err != nil {
			return err
		}
		out = make([]Metadata, 0, len(names))
		for i, name := range names {
			out = append(out, Metadata{Key: name, Size: attrs[i].Size, Updated: attrs[i].Updated})
		}
		return nil
	})
	if err != nil {
		return nil, newError(classify(err), prefix, err)
	}
	return out, nil
}

func (s *GCSStore) GetMetadata(ctx context.Context, key string) (Metadata, error) {
	var out Metadata
	err := withRetry(ctx, func() error {
		a, err := s.client.Attrs(ctx, key)
		if err != nil {
			return err
		}
		out = Metadata{Key: key, Size: a.Size, Updated: a.Updated}
		return nil
	})
	if err != nil {
		return Metadata{}, newError(classify(err), key, err)
	}
	return out, nil
}

func (s *GCSStore) Touch(ctx context.Context, key string) error {
	sometimes := s.sometimesFor(key)
	var opErr error
	sometimes.Do(func() {
		body, err := s.client.Download(ctx, key)
		if err != nil {
			opErr = newError(classify(err), key, err)
			return
		}
		opErr = s.Upload(ctx, key, body)
	})
	return opErr
}

func (s *GCSStore) sometimesFor(key string) *rate.Sometimes {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sm, ok := s.touches[key]; ok {
		return sm
	}
	sm := &rate.Sometimes{Interval: touchInterval}
	s.touches[key] = sm
	return sm
}

func classify(err error) Code {
	if err == nil {
		return CodeInternal
	}
	if gcp.IsNotExist(err) {
		return CodeNotFound
	}
	return CodeUnavailable
}

package poller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker names persisted through the MarkerStore. The connected marker is
// the mutual-exclusion lock for a run; the reconnect marker tells a
// supervisor a crashed run wants restarting; the stop marker asks a live
// run to finish its cycle and exit.
const (
	MarkerConnected = "connected"
	MarkerReconnect = "reconnect"
	MarkerStop      = "stop"
)

// MarkerStore persists poller state outside the process so concurrent runs
// refuse to start and other processes can observe or stop the poller.
type MarkerStore interface {
	// Set creates the marker. created is false when it already existed.
	Set(ctx context.Context, name string) (created bool, err error)
	Exists(ctx context.Context, name string) (bool, error)
	Clear(ctx context.Context, name string) error
}

// FileMarkerStore keeps markers as files in a directory. Creation uses
// O_EXCL so two processes cannot both win the connected marker.
type FileMarkerStore struct {
	Dir string
}

func (s *FileMarkerStore) path(name string) string {
	return filepath.Join(s.Dir, "poller."+name)
}

func (s *FileMarkerStore) Set(_ context.Context, name string) (bool, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return false, fmt.Errorf("poller: marker dir: %w", err)
	}
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("poller: set marker %s: %w", name, err)
	}
	fmt.Fprintf(f, "%d\n", time.Now().Unix())
	return true, f.Close()
}

func (s *FileMarkerStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileMarkerStore) Clear(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RedisMarkerStore keeps markers as Redis keys, for installations where
// the web and poller processes do not share a filesystem. Keys carry a TTL
// so a machine that dies with the lock held does not wedge polling forever.
type RedisMarkerStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMarkerStore returns a marker store on the given client. A zero
// ttl defaults to one hour.
func NewRedisMarkerStore(client *redis.Client, prefix string, ttl time.Duration) *RedisMarkerStore {
	if prefix == "" {
		prefix = "replypost:poller:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisMarkerStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisMarkerStore) Set(ctx context.Context, name string) (bool, error) {
	created, err := s.client.SetNX(ctx, s.prefix+name, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("poller: set marker %s: %w", name, err)
	}
	return created, nil
}

func (s *RedisMarkerStore) Exists(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+name).Result()
	if err != nil {
		return false, fmt.Errorf("poller: check marker %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *RedisMarkerStore) Clear(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.prefix+name).Err(); err != nil {
		return fmt.Errorf("poller: clear marker %s: %w", name, err)
	}
	return nil
}

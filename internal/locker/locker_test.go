package locker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Obtain(ctx, "doc-1")
			if err != nil {
				t.Errorf("obtain: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Obtain(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Obtain(ctx, "doc-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := l.Obtain(context.Background(), "doc-2")
	if err != nil {
		t.Fatalf("other keys must not block: %v", err)
	}
	other()
	release()
	release()
}

func TestRedisExcludesSecondHolderUntilRelease(t *testing.T) {
	addr := os.Getenv("GUDANG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set GUDANG_TEST_REDIS_ADDR to run redis locker test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("GUDANG_TEST_REDIS_PASSWORD")})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	l := NewRedis(client, 200*time.Millisecond)
	key := fmt.Sprintf("doc-%d", time.Now().UnixNano())

	release, err := l.Obtain(context.Background(), key)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if _, err := l.Obtain(context.Background(), key); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected second holder to be refused, got %v", err)
	}
	release()

	again, err := l.Obtain(context.Background(), key)
	if err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
	again()
}

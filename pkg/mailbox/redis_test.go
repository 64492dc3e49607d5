package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listServer answers the list and hash commands the mailbox sends, from a
// client hook, so no Redis server is needed.
type listServer struct {
	mu     sync.Mutex
	lists  map[string][]string
	hashes map[string]map[string]string
	ttls   map[string]time.Duration
	failOn string
}

func newListServer() *listServer {
	return &listServer{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (s *listServer) DialHook(redis.DialHook) redis.DialHook {
	return func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("dial disabled in tests")
	}
}

func (s *listServer) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		return s.exec(cmd)
	}
}

func (s *listServer) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		var first error
		for _, cmd := range cmds {
			if err := s.exec(cmd); err != nil {
				cmd.SetErr(err)
				if first == nil {
					first = err
				}
			}
		}
		return first
	}
}

func argString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func argInt(v interface{}) int64 {
	n, _ := strconv.ParseInt(argString(v), 10, 64)
	return n
}

func (s *listServer) exec(cmd redis.Cmder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := cmd.Name()
	if name == s.failOn {
		return errors.New("READONLY You can't write against a read only replica")
	}
	args := cmd.Args()
	key := ""
	if len(args) > 1 {
		key = argString(args[1])
	}

	switch name {
	case "multi":
		cmd.(*redis.StatusCmd).SetVal("OK")
	case "exec":
	case "rpush":
		for _, v := range args[2:] {
			s.lists[key] = append(s.lists[key], argString(v))
		}
		cmd.(*redis.IntCmd).SetVal(int64(len(s.lists[key])))
	case "ltrim":
		s.ltrim(key, argInt(args[2]), argInt(args[3]))
		cmd.(*redis.StatusCmd).SetVal("OK")
	case "expire":
		s.ttls[key] = time.Duration(argInt(args[2])) * time.Second
		cmd.(*redis.BoolCmd).SetVal(true)
	case "lpop":
		list := s.lists[key]
		if len(list) == 0 {
			return redis.Nil
		}
		n := int(argInt(args[2]))
		if n > len(list) {
			n = len(list)
		}
		cmd.(*redis.StringSliceCmd).SetVal(append([]string(nil), list[:n]...))
		if rest := list[n:]; len(rest) > 0 {
			s.lists[key] = rest
		} else {
			delete(s.lists, key)
		}
	case "llen":
		cmd.(*redis.IntCmd).SetVal(int64(len(s.lists[key])))
	case "hset":
		h := s.hashes[key]
		if h == nil {
			h = make(map[string]string)
			s.hashes[key] = h
		}
		var added int64
		for i := 2; i+1 < len(args); i += 2 {
			field := argString(args[i])
			if _, ok := h[field]; !ok {
				added++
			}
			h[field] = argString(args[i+1])
		}
		cmd.(*redis.IntCmd).SetVal(added)
	case "hgetall":
		out := make(map[string]string, len(s.hashes[key]))
		for k, v := range s.hashes[key] {
			out[k] = v
		}
		cmd.(*redis.MapStringStringCmd).SetVal(out)
	default:
		return fmt.Errorf("unexpected command %q", name)
	}
	return nil
}

func (s *listServer) ltrim(key string, start, stop int64) {
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		delete(s.lists, key)
		return
	}
	s.lists[key] = append([]string(nil), list[start:stop+1]...)
}

func newTestRedis(t *testing.T, opts ...Option) (*RedisMailbox, *listServer) {
	t.Helper()
	srv := newListServer()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(srv)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(nil, client, append([]Option{WithPrefix("test")}, opts...)...), srv
}

func TestRedisMailboxPushTrimsAndExpires(t *testing.T) {
	box, srv := newTestRedis(t, WithMaxDepth(2), WithTTL(time.Minute))
	ctx := context.Background()

	for i, p := range []string{"a", "b", "c"} {
		depth, err := box.Push(ctx, "ea-1", []byte(p))
		require.NoError(t, err)
		assert.Equal(t, int64(min(i+1, 2)), depth)
	}

	assert.Equal(t, []string{"b", "c"}, srv.lists["test:mailbox:ea-1"])
	assert.Equal(t, time.Minute, srv.ttls["test:mailbox:ea-1"])

	depth, err := box.Depth(ctx, "ea-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestRedisMailboxPopDrainsInOrder(t *testing.T) {
	box, srv := newTestRedis(t)
	ctx := context.Background()

	for _, p := range []string{"o1", "o2", "o3"} {
		_, err := box.Push(ctx, "ea-1", []byte(p))
		require.NoError(t, err)
	}

	got, err := box.Pop(ctx, "ea-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o1", string(got[0]))
	assert.Equal(t, "o2", string(got[1]))

	got, err = box.Pop(ctx, "ea-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "o3", string(got[0]))

	// empty list comes back as redis.Nil
	got, err = box.Pop(ctx, "ea-1", 10)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Contains(t, srv.hashes["test:mailbox-consumers"], "ea-1")
}

func TestRedisMailboxNoTTLSkipsExpire(t *testing.T) {
	box, srv := newTestRedis(t)
	_, err := box.Push(context.Background(), "ea-1", []byte("x"))
	require.NoError(t, err)
	assert.NotContains(t, srv.ttls, "test:mailbox:ea-1")
}

func TestRedisMailboxConsumers(t *testing.T) {
	box, srv := newTestRedis(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	_, err := box.Pop(ctx, "ea-2", 1)
	require.NoError(t, err)
	_, err = box.Pop(ctx, "ea-1", 1)
	require.NoError(t, err)
	_, err = box.Push(ctx, "ea-1", []byte("x"))
	require.NoError(t, err)
	_, err = box.Push(ctx, "ea-1", []byte("y"))
	require.NoError(t, err)
	srv.hashes["test:mailbox-consumers"]["broken"] = "not-a-number"

	consumers, err := box.Consumers(ctx)
	require.NoError(t, err)
	require.Len(t, consumers, 2)
	assert.Equal(t, "ea-1", consumers[0].Address)
	assert.Equal(t, int64(2), consumers[0].Pending)
	assert.Equal(t, "ea-2", consumers[1].Address)
	assert.Zero(t, consumers[1].Pending)
	assert.True(t, consumers[0].LastSeen.After(before))
}

func TestRedisMailboxConsumersEmpty(t *testing.T) {
	box, _ := newTestRedis(t)
	consumers, err := box.Consumers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, consumers)
}

func TestRedisMailboxWrapsErrors(t *testing.T) {
	box, srv := newTestRedis(t)
	srv.failOn = "rpush"

	_, err := box.Push(context.Background(), "ea-1", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpush test:mailbox:ea-1")
	assert.Empty(t, srv.lists)
}

func TestRedisMailboxClosed(t *testing.T) {
	box, _ := newTestRedis(t)
	require.NoError(t, box.Close())

	_, err := box.Push(context.Background(), "a", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = box.Pop(context.Background(), "a", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

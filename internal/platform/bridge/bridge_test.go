package bridge

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bridge tests use /bin/sh")
	}
}

func shellPlatform(script string) *Platform {
	return New(types.BridgeConfig(), Options{
		Name:    "tiktok",
		Command: "sh",
		Args:    []string{"-c", script, "sh", RoomPlaceholder},
	})
}

type collector struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (c *collector) handle(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) all() []types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message(nil), c.msgs...)
}

func TestParseEvent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, msg types.Message)
	}{
		{
			name: "chat",
			line: `{"type":"chat","user":"u1","nickname":"Ann","text":"hello","timestamp":1700000000500}`,
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, types.CategoryChat, msg.Type)
				assert.Equal(t, "u1", msg.UserID)
				assert.Equal(t, "Ann", msg.UserName)
				assert.Equal(t, "hello", msg.Content)
				assert.InDelta(t, 1700000000.5, msg.Timestamp, 1e-6)
			},
		},
		{
			name: "gift defaults",
			line: `{"type":"gift","user":"u2","gift_name":"Rose"}`,
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, types.CategoryGift, msg.Type)
				assert.Equal(t, "Rose", msg.GiftName)
				assert.Equal(t, uint64(1), msg.GiftCount)
				assert.Equal(t, "u2", msg.UserID)
				assert.Equal(t, "Unknown User", msg.UserName)
				assert.Equal(t, types.Timestamp(now), msg.Timestamp)
			},
		},
		{
			name: "like",
			line: `{"type":"like","user":"u3","count":15,"total":300}`,
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, types.CategoryLike, msg.Type)
				assert.Equal(t, uint64(15), msg.LikeCount)
				assert.Equal(t, uint64(300), msg.LikeTotal)
			},
		},
		{
			name: "member",
			line: `{"type":"member","user":"u4","nickname":"Dee"}`,
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, types.CategoryJoin, msg.Type)
				assert.Equal(t, "unknown", msg.Gender)
			},
		},
		{
			name: "room user",
			line: `{"type":"roomUser","viewerCount":1234}`,
			check: func(t *testing.T, msg types.Message) {
				assert.Equal(t, types.CategoryStats, msg.Type)
				assert.Equal(t, int64(1234), msg.CurrentViewers)
				assert.Equal(t, "1234", msg.TotalViewers)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := ParseEvent("room-1", []byte(tt.line), now)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "room-1", msg.RoomID)
			assert.NotEmpty(t, msg.ID)
			tt.check(t, msg)
		})
	}
}

func TestParseEventIgnoresUnknown(t *testing.T) {
	_, ok, err := ParseEvent("r", []byte(`{"type":"envelope"}`), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseEvent("r", []byte(`42`), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseEvent("r", []byte(`connecting to room...`), time.Now())
	assert.ErrorIs(t, err, ErrNotJSON)
}

func TestParseEventMissingUser(t *testing.T) {
	for _, line := range []string{
		`{"type":"chat","nickname":"Ann","text":"hello"}`,
		`{"type":"gift","user":"","gift_name":"Rose"}`,
		`{"type":"follow"}`,
	} {
		_, ok, err := ParseEvent("r", []byte(line), time.Now())
		assert.ErrorIs(t, err, ErrMissingUser, line)
		assert.False(t, ok, line)
	}

	// 统计事件不需要用户
	_, ok, err := ParseEvent("r", []byte(`{"type":"roomUser","viewerCount":3}`), time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcessSkipsEventsWithoutUser(t *testing.T) {
	requireShell(t)
	p := shellPlatform(`
echo '{"type":"chat","text":"no one"}'
echo '{"type":"chat","user":"u1","text":"hi"}'
`)
	tr, err := p.Connect(context.Background(), "7777")
	require.NoError(t, err)

	var got collector
	assert.ErrorIs(t, tr.Run(got.handle), errors.ErrRoomEnded)

	msgs := got.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, "u1", msgs[0].UserID)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, types.ControlEnded, msgs[1].Status)
}

func TestProcessRateLimitedExit(t *testing.T) {
	requireShell(t)
	tests := []struct {
		name   string
		script string
	}{
		{name: "stdout", script: `echo 'error: RATE_LIMIT exceeded'; exit 1`},
		{name: "stderr", script: `echo '{"error":"rate_limit"}' >&2; exit 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := shellPlatform(tt.script).Connect(context.Background(), "7777")
			require.NoError(t, err)

			var got collector
			err = tr.Run(got.handle)
			assert.ErrorIs(t, err, errors.ErrRateLimited)
			assert.NotErrorIs(t, err, errors.ErrRoomEnded)

			msgs := got.all()
			require.Len(t, msgs, 1)
			assert.Equal(t, types.ControlEnded, msgs[0].Status)
		})
	}
}

func TestProcessEmitsEventsAndEnded(t *testing.T) {
	requireShell(t)
	script := `
echo '{"type":"chat","user":"u1","nickname":"Ann","text":"hello","timestamp":1700000000500}'
echo "connecting to room $1"
echo 'bridge warning' >&2
echo '{"type":"envelope"}'
echo '{"type":"gift","user":"u2","nickname":"Bob","gift_name":"Rose","count":5}'
`
	p := shellPlatform(script)

	st, err := p.RoomStatus(context.Background(), "7777")
	require.NoError(t, err)
	assert.True(t, st.Live)

	tr, err := p.Connect(context.Background(), "7777")
	require.NoError(t, err)

	var got collector
	err = tr.Run(got.handle)
	assert.ErrorIs(t, err, errors.ErrRoomEnded)

	msgs := got.all()
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "7777", msgs[0].RoomID)
	assert.Equal(t, "Rose", msgs[1].GiftName)
	assert.Equal(t, uint64(5), msgs[1].GiftCount)
	assert.Equal(t, types.CategoryControl, msgs[2].Type)
	assert.Equal(t, types.ControlEnded, msgs[2].Status)
	assert.NoError(t, tr.Disconnect())
}

func TestProcessDisconnectKillsChild(t *testing.T) {
	requireShell(t)
	p := shellPlatform(`echo '{"type":"like","user":"u5","count":2,"total":10}'; exec sleep 30`)

	tr, err := p.Connect(context.Background(), "7777")
	require.NoError(t, err)

	var got collector
	done := make(chan error, 1)
	go func() { done <- tr.Run(got.handle) }()

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Disconnect())
	require.NoError(t, tr.Disconnect())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errors.ErrConnectionClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
	msgs := got.all()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.ControlEnded, msgs[1].Status)
}

func TestRoomStatusMissingCommand(t *testing.T) {
	p := New(types.BridgeConfig(), Options{Command: "livelink-no-such-bridge"})
	_, err := p.RoomStatus(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHandshake)
	assert.Equal(t, "bridge", p.Name())
}

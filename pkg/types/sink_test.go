package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChanSinkDropsWhenFull(t *testing.T) {
	s := NewChanSink(1)
	assert.True(t, s.Put(Message{Content: "1"}))
	assert.False(t, s.Put(Message{Content: "2"}))
	assert.Equal(t, int64(1), s.Dropped())
	assert.Equal(t, "1", (<-s.C()).Content)

	s.Close()
	s.Close()
	assert.False(t, s.Put(Message{Content: "3"}))
	assert.Equal(t, int64(2), s.Dropped())
}

func TestFanoutSink(t *testing.T) {
	full := NewChanSink(1)
	full.Put(Message{})
	open := NewChanSink(4)

	var seen []string
	fn := SinkFunc(func(msg Message) bool {
		seen = append(seen, msg.Content)
		return false
	})

	f := FanoutSink{full, nil, open, fn}
	assert.True(t, f.Put(Message{Content: "hi"}))
	assert.Equal(t, "hi", (<-open.C()).Content)
	assert.Equal(t, []string{"hi"}, seen)

	assert.False(t, FanoutSink{full, fn}.Put(Message{}))
}

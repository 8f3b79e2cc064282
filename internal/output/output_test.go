package output

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmykhalevych/event-tracer/internal/client"
	"github.com/tmykhalevych/event-tracer/pkg/domain"
	"github.com/tmykhalevych/event-tracer/pkg/message"
	"github.com/tmykhalevych/event-tracer/pkg/slab"
	"github.com/tmykhalevych/event-tracer/pkg/span"
)

const messageLen = 16

func newPool(t *testing.T) *slab.Allocator {
	t.Helper()
	return slab.New(span.New(make([]byte, 8*messageLen)), messageLen)
}

func intern(t *testing.T, pool *slab.Allocator, text string) message.Message {
	t.Helper()
	m, err := message.Create(text, pool)
	require.NoError(t, err)
	return m
}

func TestAppendEvent(t *testing.T) {
	pool := newPool(t)

	tests := []struct {
		name  string
		event domain.Event
		pool  *slab.Allocator
		want  string
	}{
		{
			name:  "priority",
			event: domain.Event{TS: 42, ID: domain.EventTaskSwitchedIn, Ctx: domain.PriorityContext(2, 3)},
			pool:  pool,
			want:  `{"ts":42,"event":26,"ctx":{"task":2,"info":{"prio":3}}}`,
		},
		{
			name:  "message",
			event: domain.Event{TS: 7, ID: domain.EventTaskCreate, Ctx: domain.MessageContext(1, intern(t, pool, "worker"))},
			pool:  pool,
			want:  `{"ts":7,"event":7,"ctx":{"task":1,"info":{"msg":"worker"}}}`,
		},
		{
			name:  "escaped message",
			event: domain.Event{ID: domain.UserMessage.EventID(), Ctx: domain.MessageContext(1, intern(t, pool, "a\"b\\\n\x01"))},
			pool:  pool,
			want:  `{"ts":0,"event":4,"ctx":{"task":1,"info":{"msg":"a\"b\\\n\u0001"}}}`,
		},
		{
			name:  "marker",
			event: domain.Event{TS: 1, ID: domain.EventMalloc, Ctx: domain.MarkerContext(0, domain.MarkerGlobalScope)},
			pool:  pool,
			want:  `{"ts":1,"event":` + strconv.Itoa(int(domain.EventMalloc)) + `,"ctx":{"task":0,"info":{"mark":1}}}`,
		},
		{
			name:  "message without pool",
			event: domain.Event{TS: 1, ID: domain.EventTaskDelete, Ctx: domain.MessageContext(3, 0)},
			want:  `{"ts":1,"event":11,"ctx":{"task":3,"info":{"mark":2}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := AppendEvent(nil, tt.event, tt.pool)
			assert.Equal(t, tt.want, string(line))
			assert.True(t, json.Valid(line))
			assert.LessOrEqual(t, len(line)+1, MaxLineLen(messageLen))
		})
	}
}

func TestAppendStringInvalidUTF8(t *testing.T) {
	got := appendString(nil, []byte{'o', 'k', 0xff, 0xe2, 0x82, 0xac})
	assert.Equal(t, "\"ok�€\"", string(got))
	assert.True(t, json.Valid(got))
}

func TestAppendEventDoesNotAllocate(t *testing.T) {
	pool := newPool(t)
	e := domain.Event{TS: 1 << 39, ID: domain.EventTaskCreate, Ctx: domain.MessageContext(65535, intern(t, pool, "fifteen chars!!"))}
	buf := make([]byte, 0, MaxLineLen(messageLen))

	allocs := testing.AllocsPerRun(100, func() {
		buf = AppendEvent(buf[:0], e, pool)
	})
	assert.Zero(t, allocs)
}

func TestJSONFormatter(t *testing.T) {
	pool := newPool(t)
	var out bytes.Buffer
	f := NewJSONFormatter(&out, messageLen)

	err := f.Consume(context.Background(), client.Batch{
		Events: []domain.Event{
			{TS: 1, ID: domain.EventTaskCreate, Ctx: domain.MessageContext(1, intern(t, pool, "idle"))},
			{TS: 5, ID: domain.EventTaskSwitchedIn, Ctx: domain.PriorityContext(1, 0)},
		},
		Messages: pool,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var decoded struct {
		TS    uint64 `json:"ts"`
		Event int    `json:"event"`
		Ctx   struct {
			Task int            `json:"task"`
			Info map[string]any `json:"info"`
		} `json:"ctx"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, uint64(1), decoded.TS)
	assert.Equal(t, 7, decoded.Event)
	assert.Equal(t, "idle", decoded.Ctx.Info["msg"])
}

func TestHumanFormatter(t *testing.T) {
	pool := newPool(t)
	var out bytes.Buffer
	f := NewHumanFormatter(&out, true)

	err := f.Consume(context.Background(), client.Batch{
		Events: []domain.Event{
			{TS: 1, ID: domain.EventTaskCreate, Ctx: domain.MessageContext(2, intern(t, pool, "worker"))},
			{TS: 9, ID: domain.EventTaskSwitchedIn, Ctx: domain.PriorityContext(2, 4)},
			{TS: 12, ID: domain.UserMessage.EventID(), Ctx: domain.MarkerContext(2, domain.MarkerMessageLost)},
		},
		Messages: pool,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "TASK_CREATE")
	assert.Contains(t, lines[0], `msg="worker"`)
	assert.Contains(t, lines[1], "task=worker(2) prio=4")
	assert.Contains(t, lines[2], "MESSAGE")
	assert.Contains(t, lines[2], "mark=MESSAGE_LOST")
	assert.NotContains(t, out.String(), "\x1b[", "colours disabled")
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  string
		want    any
		wantErr bool
	}{
		{"json", &JSONFormatter{}, false},
		{"JSON", &JSONFormatter{}, false},
		{"human", &HumanFormatter{}, false},
		{"", &HumanFormatter{}, false},
		{"xml", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			f, err := NewFormatter(tt.format, &bytes.Buffer{}, Options{MaxMessageLen: messageLen})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}
}

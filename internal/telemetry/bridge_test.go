package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}

func TestDeliverKeepsOrder(t *testing.T) {
	b := New(0, nil)
	gen := b.Begin()

	for _, s := range []string{"a", "b", "c"} {
		require.True(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: s, Generation: gen}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, texts(b.Records()))
}

func TestDeliverIgnoresUnknownKinds(t *testing.T) {
	b := New(0, nil)
	gen := b.Begin()

	assert.False(t, b.Deliver(Message{Kind: "console", Payload: "x", Generation: gen}))
	assert.False(t, b.Deliver(Message{Kind: "", Payload: "x", Generation: gen}))
	assert.Empty(t, b.Records())
}

func TestDeliverBeforeBeginIsIgnored(t *testing.T) {
	b := New(0, nil)
	assert.False(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: "x"}))
}

func TestBeginClearsAndDiscardsStaleGenerations(t *testing.T) {
	b := New(0, nil)
	old := b.Begin()
	b.Deliver(Message{Kind: KindConsoleOutput, Payload: "old-1", Generation: old})

	cur := b.Begin()
	assert.Empty(t, b.Records(), "a new generation starts with an empty record")
	assert.Greater(t, cur, old)

	assert.False(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: "old-2", Generation: old}))
	assert.True(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: "new", Generation: cur}))
	assert.Equal(t, []string{"new"}, texts(b.Records()))
}

func TestDeliverRaw(t *testing.T) {
	b := New(0, nil)
	gen := b.Begin()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{"valid", `{"kind":"console-output","payload":"hi 42"}`, true},
		{"extra fields", `{"kind":"console-output","payload":"x","generation":999}`, true},
		{"wrong kind", `{"kind":"resize","payload":"x"}`, false},
		{"missing payload", `{"kind":"console-output"}`, false},
		{"non-string payload", `{"kind":"console-output","payload":{"a":1}}`, false},
		{"not an object", `"console-output"`, false},
		{"garbage", `<<<`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.DeliverRaw(gen, []byte(tt.body)))
		})
	}
	assert.Equal(t, []string{"hi 42", "x"}, texts(b.Records()))
}

func TestMaxRecords(t *testing.T) {
	b := New(2, nil)
	gen := b.Begin()

	for _, s := range []string{"1", "2", "3", "4"} {
		b.Deliver(Message{Kind: KindConsoleOutput, Payload: s, Generation: gen})
	}
	assert.Equal(t, []string{"1", "2"}, texts(b.Records()))
	assert.Equal(t, 2, b.Dropped())

	b.Clear()
	assert.Zero(t, b.Dropped())
	assert.True(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: "5", Generation: gen}))
}

func TestClearKeepsGeneration(t *testing.T) {
	b := New(0, nil)
	gen := b.Begin()
	b.Deliver(Message{Kind: KindConsoleOutput, Payload: "x", Generation: gen})

	b.Clear()
	assert.Empty(t, b.Records())
	assert.Equal(t, gen, b.Generation())
	assert.True(t, b.Deliver(Message{Kind: KindConsoleOutput, Payload: "y", Generation: gen}))
}

func TestSubscribeSeesResetBeforeAppends(t *testing.T) {
	b := New(0, nil)
	var events []Event
	cancel := b.Subscribe(func(ev Event) { events = append(events, ev) })

	gen := b.Begin()
	b.Deliver(Message{Kind: KindConsoleOutput, Payload: "a", Generation: gen})
	b.Begin()

	require.Len(t, events, 3)
	assert.Equal(t, EventReset, events[0].Type)
	assert.Equal(t, EventAppend, events[1].Type)
	assert.Equal(t, "a", events[1].Record.Text)
	assert.Equal(t, 0, events[1].Index)
	assert.Equal(t, EventReset, events[2].Type)
	assert.Equal(t, gen+1, events[2].Generation)

	cancel()
	b.Begin()
	assert.Len(t, events, 3)
}

package bus

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapring/discovery"
	"mapring/mapping"
)

func TestCodec(t *testing.T) {
	item := mapping.Item{PlatformID: 2, TypeID: -101, ClassName: "com.foo.Bar$Inner"}
	p := mapping.NewProposal("node-a", item)

	tests := []struct {
		name string
		msg  discovery.CustomMessage
		head string
	}{
		{name: "proposal", msg: p, head: "PROPOSE"},
		{name: "duplicate", msg: p.MarkDuplicate(), head: "PROPOSE"},
		{name: "rejected", msg: p.Reject("com.foo.Baz"), head: "PROPOSE"},
		{name: "accepted", msg: mapping.Accepted{MessageID: uuid.New(), Item: item}, head: "ACCEPT"},
		{name: "reject ack", msg: p.Reject("com.foo.Baz").AckMessage(), head: "REJECT"},
		{name: "abort", msg: p.AbortMessage(), head: "ABORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(line, tt.head+" "))
			assert.NotContains(t, line, "\n")

			got, err := Decode(strings.Fields(line))
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestEncodeRejectedDuplicateKeepsRejection(t *testing.T) {
	p := mapping.NewProposal("a", mapping.Item{TypeID: 1, ClassName: "x.X"}).MarkDuplicate().Reject("y.Y")
	line, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(strings.Fields(line))
	require.NoError(t, err)
	assert.Equal(t, "y.Y", got.(mapping.Proposal).Conflicting)
	assert.IsType(t, mapping.Rejected{}, got.AckMessage())
}

func TestDecodeErrors(t *testing.T) {
	id := uuid.New().String()
	for _, line := range []string{
		"",
		"HELLO",
		"PROPOSE " + id + " a 0 1 - ",
		"PROPOSE nope a 0 1 - x.X",
		"PROPOSE " + id + " a 300 1 - x.X",
		"PROPOSE " + id + " a 0 1 MAYBE x.X",
		"PROPOSE " + id + " a 0 1 REJ: x.X",
		"ACCEPT " + id + " 0 abc x.X",
		"REJECT " + id + " " + id + " a 0 1 x.X",
	} {
		_, err := Decode(strings.Fields(line))
		assert.Error(t, err, line)
	}
}

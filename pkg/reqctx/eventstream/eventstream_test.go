package eventstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOneCompleteEvent(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: foo\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "foo"}}, events)
}

func TestTwoCompleteEvents(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: first event\n\ndata: second event\n\n"))
	assert.Equal(t, []Event{
		{Event: "message", Data: "first event"},
		{Event: "message", Data: "second event"},
	}, events)
}

func TestOneCompleteAndOnePartialEvent(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: complete\n\ndata: partial"))
	assert.Equal(t, []Event{{Event: "message", Data: "complete"}}, events)

	events = p.Parse([]byte(" event\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "partial event"}}, events)
}

func TestEventWithAllFields(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("event: custom\ndata: test data\nid: 123\nretry: 5000\n\n"))
	assert.Equal(t, []Event{{
		Event: "custom",
		Data:  "test data",
		ID:    "123",
		Retry: 5000 * time.Millisecond,
	}}, events)
}

func TestEventWithMultipleDataLines(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: line 1\ndata: line 2\ndata: line 3\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "line 1\nline 2\nline 3"}}, events)
}

func TestEventWithComments(t *testing.T) {
	var p Parser
	events := p.Parse([]byte(": this is a comment\ndata: actual data\n: another comment\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "actual data"}}, events)
}

func TestEmptyDataNoEvent(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("event: test\nid: 123\n\n"))
	assert.Empty(t, events)
}

func TestIDWithNullCharacterIgnored(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: test\nid: invalid\x00id\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "test"}}, events)
}

func TestInvalidRetryValueIgnored(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: test\nretry: not_a_number\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "test"}}, events)
}

func TestDataWithTrailingLF(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: test data\n\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "test data"}}, events)
}

func TestFieldWithoutValueDropsEmptyEvent(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data:\n\n"))
	assert.Empty(t, events)
}

func TestPartialEventBuffering(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("ev"))
	assert.Empty(t, events)

	events = p.Parse([]byte("ent: test\ndata: some "))
	assert.Empty(t, events)

	events = p.Parse([]byte("data\n\n"))
	assert.Equal(t, []Event{{Event: "test", Data: "some data"}}, events)
}

func TestPartialEventDataBuffering(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: data1\n"))
	assert.Empty(t, events)

	events = p.Parse([]byte("data: data2\n\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "data1\ndata2"}}, events)
}

func TestCRLFLineEndings(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: foo\r\n\r\n"))
	assert.Equal(t, []Event{{Event: "message", Data: "foo"}}, events)
}

func TestLoneTrailingCRWaitsForMoreData(t *testing.T) {
	var p Parser
	events := p.Parse([]byte("data: foo\r"))
	assert.Empty(t, events)

	events = p.Parse([]byte("\r"))
	assert.Equal(t, []Event{{Event: "message", Data: "foo"}}, events)
}

func TestExtractJSONReturnsLastJSONFrame(t *testing.T) {
	raw := []byte("data: {\"chunk\":1}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"usage\":{\"total_tokens\":42}}\n\n")

	doc, ok := ExtractJSON(raw)
	assert.True(t, ok)
	m, ok := doc.(map[string]any)
	assert.True(t, ok)
	usage, ok := m["usage"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(42), usage["total_tokens"])
}

func TestExtractJSONNoFramesDecodesAsJSON(t *testing.T) {
	_, ok := ExtractJSON([]byte("data: not json at all\n\n"))
	assert.False(t, ok)
}

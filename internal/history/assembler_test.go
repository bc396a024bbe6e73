package history

import (
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/provider"
	"github.com/splintertree/splintertree/internal/store"
)

type fakeReader struct {
	rows       []store.Message
	summaries  []store.Summary
	err        error
	summaryErr error
}

func (f *fakeReader) RecentMessages(channelID string, limit int) ([]store.Message, error) {
	return f.rows, f.err
}

func (f *fakeReader) Summaries(channelID string, since time.Time) ([]store.Summary, error) {
	return f.summaries, f.summaryErr
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuild_ChronologicalOrder(t *testing.T) {
	// Reader returns newest first, as the store does.
	r := &fakeReader{rows: []store.Message{
		{Content: "third", IsAssistant: true},
		{Content: "second"},
		{Content: "first"},
	}}
	a := NewAssembler(r, "", quietLogger())

	got := a.Build("c1", 10)
	want := []provider.ChatMessage{
		provider.TextMessage("user", "first"),
		provider.TextMessage("user", "second"),
		provider.TextMessage("assistant", "third"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() = %+v, want %+v", got, want)
	}
}

func TestBuild_DedupKeepsNewest(t *testing.T) {
	r := &fakeReader{rows: []store.Message{
		{ID: 3, Content: "hello"},
		{ID: 2, Content: "something else"},
		{ID: 1, Content: "hello"},
	}}
	a := NewAssembler(r, "", quietLogger())

	got := a.Build("c1", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after dedup, got %d", len(got))
	}
	// Newest duplicate survives, so "hello" sits after "something else".
	if got[0].Content != "something else" || got[1].Content != "hello" {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestBuild_StripsPersonaPrefix(t *testing.T) {
	r := &fakeReader{rows: []store.Message{
		{Content: "[Claude] Hello there", IsAssistant: true, PersonaName: "Claude-3-Opus"},
	}}
	a := NewAssembler(r, "", quietLogger())

	got := a.Build("c1", 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Role != "assistant" {
		t.Errorf("role = %q, want assistant", got[0].Role)
	}
	if got[0].Content != "Hello there" {
		t.Errorf("content = %q, want %q", got[0].Content, "Hello there")
	}
	if got[0].Name != "" {
		t.Errorf("unexpected name field %q", got[0].Name)
	}
}

func TestBuild_PrefixEdgeCases(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"[Grok] hi", "hi"},
		{"no prefix at all", "no prefix at all"},
		{"[unterminated bracket", "[unterminated bracket"},
		{"[] empty tag", "empty tag"},
		{"[a] [b] nested", "[b] nested"},
	}
	for _, c := range cases {
		if got := stripPersonaPrefix(c.in); got != c.want {
			t.Errorf("stripPersonaPrefix(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBuild_VisionPersonaName(t *testing.T) {
	r := &fakeReader{rows: []store.Message{
		{Content: "described the image", IsAssistant: true, PersonaName: "Llama-Vision"},
		{Content: "a normal reply", IsAssistant: true, PersonaName: "Grok"},
	}}
	a := NewAssembler(r, "Llama-Vision", quietLogger())

	got := a.Build("c1", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].Name != "" {
		t.Errorf("non-vision persona should carry no name, got %q", got[0].Name)
	}
	if got[1].Name != "Llama-Vision" {
		t.Errorf("vision persona name = %q, want Llama-Vision", got[1].Name)
	}
}

func TestBuild_SummariesPrecedeHistory(t *testing.T) {
	r := &fakeReader{
		rows: []store.Message{
			{Content: "recent message"},
		},
		summaries: []store.Summary{
			{Summary: "yesterday the group planned a trip"},
			{Summary: "last week the group argued about pizza"},
		},
	}
	a := NewAssembler(r, "", quietLogger())

	got := a.Build("c1", 10)
	if len(got) != 3 {
		t.Fatalf("expected 2 summaries + 1 message, got %d", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "[SUMMARY] yesterday the group planned a trip" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Content != "[SUMMARY] last week the group argued about pizza" {
		t.Errorf("second message = %+v", got[1])
	}
	if got[2].Content != "recent message" {
		t.Errorf("history must follow summaries, got %+v", got[2])
	}
}

func TestBuild_SummaryErrorDropsSummariesOnly(t *testing.T) {
	r := &fakeReader{
		rows:       []store.Message{{Content: "still here"}},
		summaryErr: errors.New("summaries gone"),
	}
	a := NewAssembler(r, "", quietLogger())

	got := a.Build("c1", 10)
	if len(got) != 1 || got[0].Content != "still here" {
		t.Errorf("expected history without summaries, got %+v", got)
	}
}

func TestBuild_ReaderError(t *testing.T) {
	r := &fakeReader{err: errors.New("db gone")}
	a := NewAssembler(r, "", quietLogger())

	if got := a.Build("c1", 10); len(got) != 0 {
		t.Errorf("expected empty history on reader error, got %+v", got)
	}
}

func TestBuild_Empty(t *testing.T) {
	a := NewAssembler(&fakeReader{}, "", quietLogger())
	if got := a.Build("c1", 10); len(got) != 0 {
		t.Errorf("expected empty history, got %+v", got)
	}
}

package relay

import (
	"context"
	"testing"

	"relaycast/internal/broadcast"
	"relaycast/internal/channels"
	"relaycast/internal/store"
	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

type staticSource struct {
	list []string
}

func (s *staticSource) ActiveChannels(context.Context, string) ([]string, error) {
	return s.list, nil
}

type fakeBroadcaster struct {
	calls [][]string
	res   broadcast.Result
}

func (f *fakeBroadcaster) Send(_ context.Context, _ string, _ transport.Message, dests []string) broadcast.Result {
	f.calls = append(f.calls, dests)
	r := f.res
	r.Total = len(dests)
	return r
}

type logRecorder struct {
	entries []store.LogEntry
}

func (l *logRecorder) AppendLog(_ context.Context, e store.LogEntry) error {
	l.entries = append(l.entries, e)
	return nil
}

func TestHandleSourceRelaysToActiveChannels(t *testing.T) {
	t.Parallel()
	src := &staticSource{list: []string{"@a", "@b"}}
	bc := &fakeBroadcaster{res: broadcast.Result{PassID: "p1", Successful: 2}}
	sink := &logRecorder{}
	e := New("t1", channels.New(src, "t1"), bc, sink, logx.Nop())

	post := transport.SourcePost{MessageID: 1, Message: transport.Message{Kind: transport.KindPhoto, FileRef: "f"}}
	if err := e.HandleSource(context.Background(), post); err != nil {
		t.Fatalf("HandleSource: %v", err)
	}
	if len(bc.calls) != 1 || len(bc.calls[0]) != 2 {
		t.Fatalf("broadcast calls = %v", bc.calls)
	}
	if len(sink.entries) != 1 || sink.entries[0].PassID != "p1" || sink.entries[0].Total != 2 {
		t.Fatalf("log entries = %+v", sink.entries)
	}
	if sink.entries[0].Kind != "photo" {
		t.Fatalf("log kind = %q, want photo", sink.entries[0].Kind)
	}
	if sink.entries[0].MessageID != 1 {
		t.Fatalf("log message id = %d, want 1", sink.entries[0].MessageID)
	}
	if st := e.Snapshot(); st.Relayed != 1 || st.Skipped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleSourcePicksUpNewChannels(t *testing.T) {
	t.Parallel()
	src := &staticSource{list: []string{"@a"}}
	bc := &fakeBroadcaster{}
	e := New("t1", channels.New(src, "t1"), bc, nil, logx.Nop())

	post := transport.SourcePost{MessageID: 1, Message: transport.Message{Kind: transport.KindText, Text: "x"}}
	if err := e.HandleSource(context.Background(), post); err != nil {
		t.Fatalf("HandleSource: %v", err)
	}
	// A channel added between triggers shows up on the very next pass.
	src.list = []string{"@a", "@new"}
	if err := e.HandleSource(context.Background(), post); err != nil {
		t.Fatalf("HandleSource: %v", err)
	}
	if len(bc.calls) != 2 || len(bc.calls[1]) != 2 {
		t.Fatalf("broadcast calls = %v", bc.calls)
	}
}

func TestHandleSourceSkipsUnsupportedKinds(t *testing.T) {
	t.Parallel()
	src := &staticSource{list: []string{"@a"}}
	bc := &fakeBroadcaster{}
	sink := &logRecorder{}
	e := New("t1", channels.New(src, "t1"), bc, sink, logx.Nop())

	post := transport.SourcePost{MessageID: 9, Message: transport.Message{Kind: transport.KindUnknown}}
	if err := e.HandleSource(context.Background(), post); err != nil {
		t.Fatalf("HandleSource: %v", err)
	}
	if len(bc.calls) != 0 || len(sink.entries) != 0 {
		t.Fatal("unsupported post reached the broadcaster")
	}
	if st := e.Snapshot(); st.Skipped != 1 || st.Relayed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

package telegram

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaycast/internal/transport"
)

func TestClassifyFloodError(t *testing.T) {
	t.Parallel()
	err := classify(tele.FloodError{
		RetryAfter: 14,
	})
	d, ok := transport.CooldownHint(err)
	if !ok || d != 14*time.Second {
		t.Fatalf("cooldown = %v, %v; want 14s", d, ok)
	}
	if transport.IsPermanent(err) {
		t.Fatal("flood error classified permanent")
	}
}

func TestClassifyDeadDestinations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
	}{
		{name: "forbidden code", err: &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}},
		{name: "chat not found", err: &tele.Error{Code: 400, Description: "Bad Request: chat not found"}},
		{name: "kicked", err: &tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the channel chat"}},
		{name: "no rights", err: &tele.Error{Code: 400, Description: "Bad Request: have no rights to send a message"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if !transport.IsPermanent(classify(tt.err)) {
				t.Fatalf("%v not classified permanent", tt.err)
			}
		})
	}
}

func TestClassifyTransientPassesThrough(t *testing.T) {
	t.Parallel()
	base := errors.New("Post \"https://api.telegram.org\": context deadline exceeded")
	err := classify(base)
	if transport.IsPermanent(err) {
		t.Fatal("transient error classified permanent")
	}
	if _, ok := transport.CooldownHint(err); ok {
		t.Fatal("transient error carries a cooldown")
	}
	if classify(nil) != nil {
		t.Fatal("classify(nil) != nil")
	}
}

func TestFromTelebotMapsMediaOncePerMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  *tele.Message
		want transport.Kind
		ref  string
	}{
		{name: "text", msg: &tele.Message{Text: "hello"}, want: transport.KindText},
		{name: "photo", msg: &tele.Message{Photo: &tele.Photo{File: tele.File{FileID: "p1"}}, Caption: "c"}, want: transport.KindPhoto, ref: "p1"},
		{name: "video", msg: &tele.Message{Video: &tele.Video{File: tele.File{FileID: "v1"}}}, want: transport.KindVideo, ref: "v1"},
		{name: "document", msg: &tele.Message{Document: &tele.Document{File: tele.File{FileID: "d1"}}}, want: transport.KindDocument, ref: "d1"},
		{name: "sticker", msg: &tele.Message{Sticker: &tele.Sticker{File: tele.File{FileID: "s1"}}}, want: transport.KindSticker, ref: "s1"},
		{name: "unclassified", msg: &tele.Message{}, want: transport.KindUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := fromTelebot(tt.msg)
			if got.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", got.Kind, tt.want)
			}
			if got.FileRef != tt.ref {
				t.Fatalf("file ref = %q, want %q", got.FileRef, tt.ref)
			}
		})
	}
}

func TestStopBotRunsOnce(t *testing.T) {
	t.Parallel()
	var calls int32
	a := &Adapter{stop: func() { atomic.AddInt32(&calls, 1) }}

	// Both the ctx-watch goroutine and Stop funnel through stopBot; a
	// second invocation must not reach the blocking poller handshake.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.stopBot()
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("stop calls = %d, want 1", n)
	}
}

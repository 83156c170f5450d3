package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestPermanentWrapping(t *testing.T) {
	t.Parallel()
	base := errors.New("chat not found")
	err := Permanent(base)

	if !IsPermanent(err) {
		t.Fatal("IsPermanent = false for wrapped error")
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error lost its cause")
	}
	if IsPermanent(base) {
		t.Fatal("IsPermanent = true for bare error")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) != nil")
	}
}

func TestCooldownHint(t *testing.T) {
	t.Parallel()
	base := errors.New("too many requests")
	err := RetryAfter(base, 10*time.Second)

	d, ok := CooldownHint(err)
	if !ok || d != 10*time.Second {
		t.Fatalf("CooldownHint = %v, %v", d, ok)
	}
	// The hint survives further wrapping.
	d, ok = CooldownHint(fmt.Errorf("send: %w", err))
	if !ok || d != 10*time.Second {
		t.Fatalf("CooldownHint through wrap = %v, %v", d, ok)
	}
	if _, ok := CooldownHint(base); ok {
		t.Fatal("bare error carries a hint")
	}
	if _, ok := CooldownHint(nil); ok {
		t.Fatal("nil error carries a hint")
	}
}

func TestKindSupported(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindText, KindPhoto, KindVideo, KindDocument,
		KindAudio, KindVoice, KindVideoNote, KindSticker, KindAnimation} {
		if !k.Supported() {
			t.Fatalf("%s not supported", k)
		}
	}
	if KindUnknown.Supported() {
		t.Fatal("unknown kind reported supported")
	}
	if Kind("poll").Supported() {
		t.Fatal("unmapped kind reported supported")
	}
}

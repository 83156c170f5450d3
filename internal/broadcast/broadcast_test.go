package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relaycast/internal/transport"
	logx "relaycast/pkg/logx"
)

// scriptedSender fails specific destinations with scripted errors; each
// destination's errors are consumed one attempt at a time.
type scriptedSender struct {
	mu    sync.Mutex
	fails map[string][]error
	sent  []string
}

func (s *scriptedSender) Send(_ context.Context, dest string, _ transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errs := s.fails[dest]; len(errs) > 0 {
		err := errs[0]
		s.fails[dest] = errs[1:]
		return err
	}
	s.sent = append(s.sent, dest)
	return nil
}

type countRecorder struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *countRecorder) BumpForward(_ context.Context, _ string, name string, n int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int64{}
	}
	c.counts[name] += n
	return nil
}

type alertRecorder struct {
	mu     sync.Mutex
	passes int
	failed []string
}

func (a *alertRecorder) FailureAlert(_ context.Context, _ string, _, _ int, failed []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passes++
	a.failed = failed
}

func testConfig() Config {
	return Config{
		GroupSize: 20,
		RetryBase: time.Second,
		SendRate:  1e6, // keep the pacer out of the way
	}
}

func destinations(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("@ch%02d", i)
	}
	return out
}

// newTestBroadcaster swaps the sleeper for one that records requested
// durations and returns instantly.
func newTestBroadcaster(cfg Config, sender Sender, counter Counter, alerter Alerter) (*Broadcaster, *[]time.Duration) {
	b := New(cfg, sender, counter, alerter, logx.Nop())
	var mu sync.Mutex
	slept := &[]time.Duration{}
	b.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return nil
	}
	return b, slept
}

func TestSendGroupsAndPermanentFailures(t *testing.T) {
	t.Parallel()
	sender := &scriptedSender{fails: map[string][]error{}}
	// Five destinations reject permanently; they must not be retried.
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("@ch%02d", i*9)
		sender.fails[name] = []error{
			transport.Permanent(errors.New("forbidden: bot was kicked")),
		}
	}
	counter := &countRecorder{}
	b, slept := newTestBroadcaster(testConfig(), sender, counter, nil)

	res := b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, destinations(45))

	if res.Total != 45 || res.Successful != 40 || len(res.Failed) != 5 {
		t.Fatalf("result = %d/%d ok, %d failed", res.Successful, res.Total, len(res.Failed))
	}
	// 45 destinations at group size 20 pause twice, and permanent errors
	// never schedule a retry sleep.
	if len(*slept) != 2 {
		t.Fatalf("sleeps = %v, want 2 group pauses", *slept)
	}
	counter.mu.Lock()
	defer counter.mu.Unlock()
	if len(counter.counts) != 40 {
		t.Fatalf("forward counters bumped for %d destinations, want 40", len(counter.counts))
	}
	for _, name := range res.Failed {
		if counter.counts[name] != 0 {
			t.Fatalf("failed destination %s got a forward bump", name)
		}
	}
}

func TestSendHonorsCooldownHint(t *testing.T) {
	t.Parallel()
	sender := &scriptedSender{fails: map[string][]error{
		"@ch00": {transport.RetryAfter(errors.New("too many requests"), 10*time.Second)},
	}}
	b, slept := newTestBroadcaster(testConfig(), sender, nil, nil)

	res := b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, []string{"@ch00"})

	if res.Successful != 1 || len(res.Failed) != 0 {
		t.Fatalf("result = %+v, want delivery after cooldown", res)
	}
	if len(*slept) != 1 || (*slept)[0] != 10*time.Second {
		t.Fatalf("sleeps = %v, want exactly the 10s cooldown", *slept)
	}
}

func TestSendRetriesTransientWithBackoff(t *testing.T) {
	t.Parallel()
	sender := &scriptedSender{fails: map[string][]error{
		"@ch00": {errors.New("timeout"), errors.New("timeout")},
	}}
	b, slept := newTestBroadcaster(testConfig(), sender, nil, nil)

	res := b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, []string{"@ch00"})

	if res.Successful != 1 {
		t.Fatalf("result = %+v, want success on third attempt", res)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("backoff = %v, want %v", *slept, want)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	t.Parallel()
	fails := make([]error, 6)
	for i := range fails {
		fails[i] = errors.New("timeout")
	}
	sender := &scriptedSender{fails: map[string][]error{"@ch00": fails}}
	b, _ := newTestBroadcaster(testConfig(), sender, nil, nil)

	res := b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, []string{"@ch00"})

	if res.Successful != 0 || len(res.Failed) != 1 {
		t.Fatalf("result = %+v, want exhausted failure", res)
	}
}

func TestSendAlertsOnDegradedPass(t *testing.T) {
	t.Parallel()
	sender := &scriptedSender{fails: map[string][]error{}}
	for i := 0; i < 4; i++ {
		sender.fails[fmt.Sprintf("@ch%02d", i)] = []error{
			transport.Permanent(errors.New("chat not found")),
		}
	}
	alerts := &alertRecorder{}
	b, _ := newTestBroadcaster(testConfig(), sender, nil, alerts)

	b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, destinations(10))

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if alerts.passes != 1 || len(alerts.failed) != 4 {
		t.Fatalf("alerts = %d with %d failed, want 1 alert listing 4", alerts.passes, len(alerts.failed))
	}
}

func TestSendBelowThresholdStaysQuiet(t *testing.T) {
	t.Parallel()
	sender := &scriptedSender{fails: map[string][]error{
		"@ch00": {transport.Permanent(errors.New("chat not found"))},
	}}
	alerts := &alertRecorder{}
	b, _ := newTestBroadcaster(testConfig(), sender, nil, alerts)

	b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, destinations(10))

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if alerts.passes != 0 {
		t.Fatalf("alerts = %d, want none at 10%% failure", alerts.passes)
	}
}

func TestGroupPauseWithOnlyMinConfigured(t *testing.T) {
	t.Parallel()
	// A raised minimum with the maximum left unset must widen the
	// window, not shrink it below the minimum.
	b, _ := newTestBroadcaster(Config{GroupPauseMin: 3 * time.Second}, &scriptedSender{}, nil, nil)
	if b.cfg.GroupPauseMax <= b.cfg.GroupPauseMin {
		t.Fatalf("pause window = [%v, %v), want max above min",
			b.cfg.GroupPauseMin, b.cfg.GroupPauseMax)
	}
	for i := 0; i < 100; i++ {
		d := b.groupPause()
		if d < b.cfg.GroupPauseMin || d >= b.cfg.GroupPauseMax {
			t.Fatalf("pause = %v, want in [%v, %v)", d, b.cfg.GroupPauseMin, b.cfg.GroupPauseMax)
		}
	}
}

func TestSendEmptyDestinations(t *testing.T) {
	t.Parallel()
	b, slept := newTestBroadcaster(testConfig(), &scriptedSender{}, nil, nil)
	res := b.Send(context.Background(), "t1", transport.Message{Kind: transport.KindText, Text: "hi"}, nil)
	if res.Total != 0 || res.Successful != 0 || len(res.Failed) != 0 || len(*slept) != 0 {
		t.Fatalf("result = %+v, want empty pass", res)
	}
	if res.PassID == "" {
		t.Fatal("empty pass still gets an id")
	}
}

// Package telegram implements transport.Adapter on top of telebot.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaycast/internal/transport"
	"relaycast/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// SourceChat limits inbound channel posts to one chat; 0 forwards all.
	SourceChat int64
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot

	runMu    sync.Mutex
	running  bool
	stopOnce sync.Once
	stop     func()
	out      chan<- transport.Update

	// dropped counts inbound posts discarded because the consumer was
	// slower than the poll loop; reported in Stop.
	droppedMu sync.Mutex
	dropped   uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, stop: b.Stop}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	a.runMu.Unlock()

	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		if a.cfg.SourceChat != 0 && m.Chat.ID != a.cfg.SourceChat {
			return nil
		}
		up := transport.Update{
			Kind: transport.UpdateSourcePost,
			Post: &transport.SourcePost{
				MessageID: m.ID,
				ChatID:    m.Chat.ID,
				Message:   fromTelebot(m),
			},
		}
		select {
		case out <- up:
		default:
			a.droppedMu.Lock()
			a.dropped++
			a.droppedMu.Unlock()
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		a.stopBot()
	}()
	go func() {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning {
		return nil
	}
	a.droppedMu.Lock()
	n := a.dropped
	a.dropped = 0
	a.droppedMu.Unlock()
	if n > 0 {
		a.log.Warn("inbound posts dropped (channel full)", logx.Int64("count", int64(n)))
	}
	// telebot Stop is expected to be fast; run it async just in case.
	go a.stopBot()
	return nil
}

// stopBot stops the poller exactly once. telebot's Stop blocks on a
// channel handshake, so a second caller would hang forever.
func (a *Adapter) stopBot() {
	a.stopOnce.Do(a.stop)
}

// destination wraps an opaque channel address so both numeric ids and
// @usernames pass through unchanged.
type destination string

func (d destination) Recipient() string { return string(d) }

func (a *Adapter) Send(ctx context.Context, dest string, msg transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := destination(dest)
	var err error
	switch msg.Kind {
	case transport.KindText:
		_, err = a.bot.Send(to, msg.Text)
	case transport.KindPhoto:
		_, err = a.bot.Send(to, &tele.Photo{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	case transport.KindVideo:
		_, err = a.bot.Send(to, &tele.Video{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	case transport.KindDocument:
		_, err = a.bot.Send(to, &tele.Document{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	case transport.KindAudio:
		_, err = a.bot.Send(to, &tele.Audio{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	case transport.KindVoice:
		_, err = a.bot.Send(to, &tele.Voice{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	case transport.KindVideoNote:
		_, err = a.bot.Send(to, &tele.VideoNote{File: tele.File{FileID: msg.FileRef}})
	case transport.KindSticker:
		_, err = a.bot.Send(to, &tele.Sticker{File: tele.File{FileID: msg.FileRef}})
	case transport.KindAnimation:
		_, err = a.bot.Send(to, &tele.Animation{File: tele.File{FileID: msg.FileRef}, Caption: msg.Caption})
	default:
		return transport.Permanent(errors.New("unsupported message kind: " + string(msg.Kind)))
	}
	return classify(err)
}

func (a *Adapter) Notify(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return classify(err)
}

// permanentHints mirror the API descriptions Telegram returns for dead
// destinations. Matched case-insensitively against *tele.Error.
var permanentHints = []string{
	"chat not found",
	"bot was kicked",
	"not a member",
	"have no rights",
	"forbidden",
	"user is deactivated",
	"bot was blocked",
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	var te *tele.Error
	if errors.As(err, &te) {
		if te.Code == 403 {
			return transport.Permanent(err)
		}
		desc := strings.ToLower(te.Description)
		for _, hint := range permanentHints {
			if strings.Contains(desc, hint) {
				return transport.Permanent(err)
			}
		}
	}
	return err
}

func fromTelebot(m *tele.Message) transport.Message {
	switch {
	case m.Photo != nil:
		return transport.Message{Kind: transport.KindPhoto, FileRef: m.Photo.FileID, Caption: m.Caption}
	case m.Video != nil:
		return transport.Message{Kind: transport.KindVideo, FileRef: m.Video.FileID, Caption: m.Caption}
	case m.Document != nil:
		return transport.Message{Kind: transport.KindDocument, FileRef: m.Document.FileID, Caption: m.Caption}
	case m.Audio != nil:
		return transport.Message{Kind: transport.KindAudio, FileRef: m.Audio.FileID, Caption: m.Caption}
	case m.Voice != nil:
		return transport.Message{Kind: transport.KindVoice, FileRef: m.Voice.FileID, Caption: m.Caption}
	case m.VideoNote != nil:
		return transport.Message{Kind: transport.KindVideoNote, FileRef: m.VideoNote.FileID}
	case m.Sticker != nil:
		return transport.Message{Kind: transport.KindSticker, FileRef: m.Sticker.FileID}
	case m.Animation != nil:
		return transport.Message{Kind: transport.KindAnimation, FileRef: m.Animation.FileID, Caption: m.Caption}
	case m.Text != "":
		return transport.Message{Kind: transport.KindText, Text: m.Text}
	default:
		return transport.Message{Kind: transport.KindUnknown}
	}
}

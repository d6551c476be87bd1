// Command bot plays a save over the websocket transport, one input per line
// from -script or stdin. It is meant for smoke tests and soak runs.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"loreweave.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		saveID = flag.String("save", "", "save id to resume (empty starts a new playthrough)")
		script = flag.String("script", "", "file with one input per line (default: stdin)")
		pause  = flag.Duration("pause", 0, "delay between turns")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	var in io.Reader = os.Stdin
	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			logger.Fatalf("open script: %v", err)
		}
		defer f.Close()
		in = f
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	b := &bot{conn: conn, logger: logger, pause: *pause}
	w, err := b.hello(*name, *saveID)
	if err != nil {
		logger.Fatalf("hello: %v", err)
	}
	logger.Printf("WELCOME save=%s resumed=%v package=%s location=%s packages=%d", w.SaveID, w.Resumed, w.Package, w.Location, len(w.Packages))

	played, err := b.play(in)
	if err != nil {
		logger.Fatalf("play: %v", err)
	}
	logger.Printf("done: turns=%d save=%s", played, w.SaveID)
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger
	pause  time.Duration
}

func (b *bot) hello(name, saveID string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		SaveID:          saveID,
		PlayerName:      name,
	}
	if err := b.conn.WriteJSON(hello); err != nil {
		return w, fmt.Errorf("send HELLO: %w", err)
	}
	msg, err := b.read()
	if err != nil {
		return w, err
	}
	switch m := msg.(type) {
	case protocol.WelcomeMsg:
		return m, nil
	case protocol.ErrorMsg:
		return w, fmt.Errorf("%s: %s", m.Code, m.Message)
	default:
		return w, fmt.Errorf("unexpected %T before WELCOME", msg)
	}
}

// play sends each non-empty, non-comment line as a TURN and waits for its
// reply. ERROR replies other than E_INTERNAL are logged and play continues.
func (b *bot) play(in io.Reader) (int, error) {
	sc := bufio.NewScanner(in)
	n := 0
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		n++
		ref := fmt.Sprintf("t%d", n)
		if err := b.conn.WriteJSON(protocol.TurnMsg{Type: protocol.TypeTurn, Ref: ref, Text: text}); err != nil {
			return n - 1, fmt.Errorf("send TURN: %w", err)
		}
		msg, err := b.read()
		if err != nil {
			return n - 1, err
		}
		switch m := msg.(type) {
		case protocol.NarrationMsg:
			flags := ""
			if m.Rejected != "" {
				flags += " rejected=" + m.Rejected
			}
			if m.Degraded {
				flags += " degraded"
			}
			b.logger.Printf("turn=%d %s/%s%s > %s", m.Turn, m.Package, m.Location, flags, text)
			b.logger.Printf("%s", m.Text)
		case protocol.ErrorMsg:
			if m.Code == protocol.ErrInternal {
				return n - 1, fmt.Errorf("%s: %s", m.Code, m.Message)
			}
			b.logger.Printf("ref=%s error %s: %s", ref, m.Code, m.Message)
		default:
			return n - 1, fmt.Errorf("unexpected %T", msg)
		}
		if b.pause > 0 {
			time.Sleep(b.pause)
		}
	}
	return n, sc.Err()
}

func (b *bot) read() (any, error) {
	_, raw, err := b.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return nil, err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var m protocol.WelcomeMsg
		err = json.Unmarshal(raw, &m)
		return m, err
	case protocol.TypeNarration:
		var m protocol.NarrationMsg
		err = json.Unmarshal(raw, &m)
		return m, err
	case protocol.TypeError:
		var m protocol.ErrorMsg
		err = json.Unmarshal(raw, &m)
		return m, err
	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scamguard/internal/call"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/internal/observe"
	"github.com/MrWong99/scamguard/pkg/provider/capture"
	"github.com/MrWong99/scamguard/pkg/provider/capture/relay"
	"github.com/MrWong99/scamguard/pkg/provider/capture/stream"
	"github.com/MrWong99/scamguard/pkg/provider/stt"
)

const (
	// maxFrameBytes bounds a single websocket frame. Audio chunks are the
	// largest frames.
	maxFrameBytes = 1 << 20

	writeTimeout = 10 * time.Second
	outQueueSize = 16
)

var (
	errClientClosed      = errors.New("app: client closed the connection")
	errUnexpectedCapture = errors.New("app: capture events are only accepted by the relay engine")
)

// callSession is the per-connection plumbing around one controller.
type callSession struct {
	id     string
	engine config.CaptureEngine
	conn   *websocket.Conn
	ctrl   *call.Controller
	relay  *relay.Engine
	stream *stream.Engine
	log    *slog.Logger

	out  chan serverMessage
	done <-chan struct{}
}

// ServeCall upgrades the request to a websocket and runs one call session
// until the browser disconnects or the server shuts down. An identity token
// may be passed as the "token" query parameter or later in an auth message.
func (a *App) ServeCall(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: a.origins}
	if len(a.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(observe.WithCorrelationID(r.Context(), id))
	defer cancel()

	s := &callSession{
		id:     id,
		engine: a.capture.Engine,
		conn:   conn,
		log:    observe.Logger(ctx).With("call_id", id),
		out:    make(chan serverMessage, outQueueSize),
	}
	s.ctrl = call.New(id, a.newEngine(s), a.classifier, a.callConfig(), a.controllerOptions(r.URL.Query().Get("token"))...)

	lc := &liveCall{
		id:          id,
		ctrl:        s.ctrl,
		connectedAt: time.Now(),
		done:        make(chan struct{}),
		// The close handshake ends the read loop, which tears the session down.
		stop: func() {
			go func() {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				cancel()
			}()
		},
	}
	defer close(lc.done)
	if err := a.sessions.add(lc); err != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer a.sessions.remove(id)

	if a.metrics != nil {
		a.metrics.ActiveCalls.Add(ctx, 1)
		defer a.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)
	}

	s.log.Info("call connected", "engine", s.engine)
	err = s.run(ctx)
	switch {
	case a.sessions.closing():
		s.log.Info("call closed by shutdown")
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	case err == nil || errors.Is(err, errClientClosed):
		s.log.Info("call disconnected")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.log.Warn("call session failed", "err", err)
		conn.Close(websocket.StatusInternalError, "session failed")
	}
}

func (a *App) controllerOptions(token string) []call.Option {
	opts := []call.Option{call.WithSummaryBridge(a.bridge), call.WithToken(token)}
	if a.metrics != nil {
		opts = append(opts, call.WithMetrics(a.metrics))
	}
	if a.clock != nil {
		opts = append(opts, call.WithClock(a.clock))
	}
	if a.fixer != nil {
		opts = append(opts, call.WithCorrector(a.fixer))
	}
	return opts
}

// newEngine builds the capture engine configured for the server and records
// it on s.
func (a *App) newEngine(s *callSession) capture.Engine {
	if a.capture.Engine == config.CaptureStream {
		s.stream = stream.New(a.stt, stt.StreamConfig{
			SampleRate: a.capture.SampleRate,
			Channels:   1,
			Language:   a.capture.Language,
			Keywords:   a.capture.Keywords,
		})
		return s.stream
	}
	s.relay = relay.New(s.sendCommand)
	return s.relay
}

// run drives the controller, reader and writer until one of them stops.
func (s *callSession) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	s.done = gctx.Done()

	g.Go(func() error { return s.ctrl.Run(gctx) })
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })
	return g.Wait()
}

// sendCommand is the relay engine's Sender.
func (s *callSession) sendCommand(ctx context.Context, cmd relay.Command) error {
	return s.send(ctx, serverMessage{Type: msgCapture, Command: &cmd})
}

// send queues msg for the writer.
func (s *callSession) send(ctx context.Context, msg serverMessage) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.done:
		return call.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *callSession) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				return errClientClosed
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("app: read: %w", err)
		}

		if typ == websocket.MessageBinary {
			s.audio(data)
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("malformed client message", "err", err)
			_ = s.send(ctx, serverMessage{Type: msgError, Error: "Malformed message."})
			continue
		}
		s.handle(ctx, msg)
	}
}

// handle applies one client message and reports its failure to the browser.
func (s *callSession) handle(ctx context.Context, msg clientMessage) {
	var err error
	switch msg.Type {
	case msgAuth:
		err = s.ctrl.SetToken(ctx, msg.Token)
	case msgStart:
		err = s.ctrl.Start(ctx)
	case msgEnd:
		err = s.ctrl.EndCall(ctx)
	case msgReset:
		err = s.ctrl.Reset(ctx)
	case msgCapture:
		if s.relay == nil || msg.Event == nil {
			err = errUnexpectedCapture
			break
		}
		err = s.relay.Deliver(*msg.Event)
	default:
		err = fmt.Errorf("app: unknown message type %q", msg.Type)
	}

	if err == nil || errors.Is(err, call.ErrClosed) || ctx.Err() != nil {
		return
	}
	s.log.Debug("client message failed", "type", msg.Type, "err", err)
	_ = s.send(ctx, serverMessage{Type: msgError, Error: call.Message(err)})
}

func (s *callSession) audio(chunk []byte) {
	if s.stream == nil {
		s.log.Debug("dropping audio frame for relay engine", "bytes", len(chunk))
		return
	}
	if err := s.stream.SendAudio(chunk); err != nil && !errors.Is(err, capture.ErrNotStarted) {
		s.log.Debug("forward audio", "err", err)
	}
}

func (s *callSession) writeLoop(ctx context.Context) error {
	if err := s.write(ctx, serverMessage{Type: msgHello, CallID: s.id, Engine: s.engine}); err != nil {
		return err
	}
	if err := s.write(ctx, stateMessage(s.ctrl.Snapshot())); err != nil {
		return err
	}
	for {
		var msg serverMessage
		select {
		case <-ctx.Done():
			return nil
		case snap := <-s.ctrl.Updates():
			msg = stateMessage(snap)
		case msg = <-s.out:
		}
		if err := s.write(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *callSession) write(ctx context.Context, msg serverMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, s.conn, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("app: write %s: %w", msg.Type, err)
	}
	return nil
}

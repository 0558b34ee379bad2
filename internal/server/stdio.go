package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/mcpgateway/internal/runtime"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 10 * 1024 * 1024
)

// StdioServer runs one session over newline-delimited JSON-RPC. Requests are
// handled concurrently; responses are written whole, one per line, in
// completion order.
type StdioServer struct {
	dispatcher *Dispatcher
	svc        *runtime.Service
	logger     *zap.Logger
}

// NewStdioServer creates a stdio transport for d
func NewStdioServer(d *Dispatcher, svc *runtime.Service, logger *zap.Logger) *StdioServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioServer{dispatcher: d, svc: svc, logger: logger}
}

type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) write(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := fw.w.Write(buf)
	return err
}

// Serve reads requests from in until EOF or ctx is cancelled. In-flight
// requests are waited for before it returns.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sess := s.dispatcher.OpenSession("stdio")
	defer s.dispatcher.CloseSession(sess)

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fw := &frameWriter{w: out}

	events := s.svc.SubscribeEvents()
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		s.forwardListChanged(sessCtx, sess, events, fw)
	}()
	defer func() {
		s.svc.UnsubscribeEvents(events)
		<-forwarderDone
	}()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			frame := make([]byte, len(line))
			copy(frame, line)
			select {
			case lines <- frame:
			case <-sessCtx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.logger.Info("Stdio session started", zap.String("session_id", sess.ID), zap.String("project", sess.ProjectID))

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			cancel()
			return nil
		case frame, ok := <-lines:
			if !ok {
				cancel()
				wg.Wait()
				var err error
				select {
				case err = <-readErr:
				default:
				}
				s.logger.Info("Stdio session ended", zap.String("session_id", sess.ID))
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := s.dispatcher.HandleMessage(sessCtx, sess, frame)
				if resp == nil {
					return
				}
				if err := fw.write(resp); err != nil {
					s.logger.Warn("Failed to write response", zap.Error(err))
				}
			}()
		}
	}
}

// forwardListChanged tells an initialized client when the tools of its
// project change
func (s *StdioServer) forwardListChanged(ctx context.Context, sess *Session, events <-chan runtime.Event, fw *frameWriter) {
	frame, _ := json.Marshal(mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{
			Method: string(mcp.MethodNotificationToolsListChanged),
		},
	})
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.ProjectID != sess.ProjectID || !sess.Initialized() {
				continue
			}
			if evt.Type != runtime.EventTypeConnectorsChanged && evt.Type != runtime.EventTypeConnectorsReloaded {
				continue
			}
			if err := fw.write(frame); err != nil {
				s.logger.Debug("Failed to send list_changed notification", zap.Error(err))
				return
			}
		}
	}
}

// Package lsp serves the Jaithon language features over the Language Server
// Protocol: Content-Length framed JSON-RPC 2.0 on a reader/writer pair.
package lsp

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"jaithonls/internal/logging"
)

// HandlerFunc processes a JSON-RPC request and returns a result or error.
type HandlerFunc func(params json.RawMessage) (any, error)

// NotifyFunc processes a JSON-RPC notification (no response expected).
type NotifyFunc func(params json.RawMessage)

// errBadMessage marks a frame whose body is not valid JSON-RPC. The
// stream itself is still in sync, so serving continues.
var errBadMessage = errors.New("malformed message")

// maxContentLength bounds the body of one incoming message.
var maxContentLength int64 = 64 << 20

// Server implements the JSON-RPC 2.0 transport for LSP.
type Server struct {
	reader   *bufio.Reader
	writer   io.Writer
	handlers map[string]HandlerFunc
	notifs   map[string]NotifyFunc
	outMu    sync.Mutex
	stopped  atomic.Bool
	logger   *slog.Logger
}

// NewServer creates a server reading requests from in and writing
// responses and notifications to out.
func NewServer(in io.Reader, out io.Writer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		reader:   bufio.NewReader(in),
		writer:   out,
		handlers: make(map[string]HandlerFunc),
		notifs:   make(map[string]NotifyFunc),
		logger:   logger,
	}
}

// Handle registers a request handler.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.handlers[method] = fn
}

// OnNotify registers a notification handler.
func (s *Server) OnNotify(method string, fn NotifyFunc) {
	s.notifs[method] = fn
}

// Stop makes Serve return after the message being handled.
func (s *Server) Stop() {
	s.stopped.Store(true)
}

// Serve reads messages in a loop until EOF or Stop.
func (s *Server) Serve() error {
	for !s.stopped.Load() {
		err := s.ServeOnce()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, errBadMessage) {
			s.logger.Error("parse error", "error", err)
			if err := s.sendError(nil, ParseError, err.Error()); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ServeOnce reads and handles a single message.
func (s *Server) ServeOnce() error {
	msg, err := readMessage(s.reader)
	if err != nil {
		return err
	}

	isNotification := len(msg.ID) == 0 || string(msg.ID) == "null"
	if isNotification {
		s.logger.Debug("received notification", "method", msg.Method)
		if fn, ok := s.notifs[msg.Method]; ok {
			fn(msg.Params)
		}
		return nil
	}

	s.logger.Debug("received request", "method", msg.Method, "id", string(msg.ID))
	fn, ok := s.handlers[msg.Method]
	if !ok {
		return s.sendError(msg.ID, MethodNotFound, "method not found: "+msg.Method)
	}

	result, handlerErr := fn(msg.Params)
	if handlerErr != nil {
		s.logger.Warn("request failed", "method", msg.Method, "error", handlerErr)
		return s.sendError(msg.ID, InternalError, handlerErr.Error())
	}
	return s.sendResult(msg.ID, result)
}

func (s *Server) sendResult(id json.RawMessage, result any) error {
	resp := rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return writeMessage(s.writer, resp)
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := rpcErrorResponse{JSONRPC: "2.0", ID: id, Error: rpcError{Code: code, Message: message}}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return writeMessage(s.writer, resp)
}

// Notify sends a server-initiated notification. Safe for concurrent use.
func (s *Server) Notify(method string, params any) error {
	msg := struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  any    `json:"params,omitempty"`
	}{JSONRPC: "2.0", Method: method, Params: params}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	return writeMessage(s.writer, msg)
}

// readMessage reads a Content-Length framed JSON-RPC message.
func readMessage(r io.Reader) (rpcMessage, error) {
	body, err := readFrame(r)
	if err != nil {
		return rpcMessage{}, err
	}
	var msg rpcMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return rpcMessage{}, fmt.Errorf("%w: %v", errBadMessage, err)
	}
	return msg, nil
}

// readFrame reads the headers and body of one message.
func readFrame(r io.Reader) ([]byte, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	var contentLen int64 = -1
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF && line != "" {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // end of headers
		}
		if name, val, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: invalid Content-Length %q", errBadMessage, strings.TrimSpace(val))
			}
			contentLen = n
		}
	}
	if contentLen <= 0 {
		return nil, fmt.Errorf("%w: missing Content-Length", errBadMessage)
	}
	if contentLen > maxContentLength {
		// Skip the body so the next frame starts in sync.
		if _, err := io.CopyN(io.Discard, br, contentLen); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: Content-Length %d exceeds %d", errBadMessage, contentLen, maxContentLength)
	}
	body := make([]byte, contentLen)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeMessage writes a Content-Length framed JSON-RPC message.
func writeMessage(w io.Writer, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

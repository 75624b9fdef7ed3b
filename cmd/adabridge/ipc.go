package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Local control surface for the CLI subcommands (send, quit, console).
//
// Protocol: Line-delimited JSON
//   - {"type": "quit"}                          -> local Quit signal
//   - {"type": "command", "data": {<command>}}  -> injected as if it came from the bus
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
// ============================================================================

const (
	ipcTypeQuit    = "quit"
	ipcTypeCommand = "command"
)

// IPCRequest is one line sent by a client.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
}

// quitRequester is satisfied by LocalUI.
type quitRequester interface {
	RequestQuit()
}

// IPCServer accepts local control connections.
type IPCServer struct {
	socketPath string
	inbound    chan<- InboundMessage
	ui         quitRequester
	logger     *slog.Logger
}

func NewIPCServer(socketPath string, inbound chan<- InboundMessage, ui quitRequester, logger *slog.Logger) *IPCServer {
	return &IPCServer{
		socketPath: socketPath,
		inbound:    inbound,
		ui:         ui,
		logger:     logger,
	}
}

// Run listens until ctx is canceled, then closes the listener and removes
// the socket file.
func (s *IPCServer) Run(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(s.socketPath)

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.logger.Info("IPC listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("IPC listener closed")
				return nil
			}
			s.logger.Error("IPC accept error", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *IPCServer) handleConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		s.logger.Debug("IPC received", "line", string(line))

		resp := IPCResponse{Status: "ok"}
		if err := s.handleLine(line); err != nil {
			resp = IPCResponse{Status: "error", Error: err.Error()}
		}
		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
}

func (s *IPCServer) handleLine(line []byte) error {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	switch req.Type {
	case ipcTypeQuit:
		s.ui.RequestQuit()
		return nil

	case ipcTypeCommand:
		if _, err := ParseCommand(req.Data); err != nil {
			return err
		}
		msg := InboundMessage{
			Payload: append([]byte(nil), req.Data...),
			Source:  "ipc",
		}
		select {
		case s.inbound <- msg:
			return nil
		default:
			return errors.New("command queue full")
		}

	default:
		return fmt.Errorf("unknown request type: %q", req.Type)
	}
}

// ============================================================================
// IPC Client
// ============================================================================

// SendIPC sends one request and waits for the response.
func SendIPC(socketPath string, req IPCRequest) error {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("ipc error: %s", resp.Error)
	}
	return nil
}

// SendIPCCommand injects a command payload through the daemon's socket.
func SendIPCCommand(socketPath string, payload []byte) error {
	return SendIPC(socketPath, IPCRequest{Type: ipcTypeCommand, Data: payload})
}

// SendIPCQuit asks the daemon to exit.
func SendIPCQuit(socketPath string) error {
	return SendIPC(socketPath, IPCRequest{Type: ipcTypeQuit})
}

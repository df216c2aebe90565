// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/benchtop/pkg/config"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection is the byte stream to the GPIB controller. Read returns (0, nil)
// once the read timeout elapses, the way go.bug.st/serial ports do.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// ErrConnectionClosed is returned when reading from a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// WebSocketConnection wraps a WebSocket bridge to a remote controller. A
// reader goroutine pumps messages into a channel so reads can time out.
type WebSocketConnection struct {
	conn     *websocket.Conn
	incoming chan []byte
	buf      []byte

	mu      sync.Mutex
	timeout time.Duration
	err     error
}

func newWebSocketConnection(conn *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:     conn,
		incoming: make(chan []byte, 64),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.incoming)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.err = err
			w.mu.Unlock()
			return
		}
		// bridges send controller output as binary or text frames
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		w.incoming <- data
	}
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	w.mu.Lock()
	timeout := w.timeout
	w.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.incoming:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, w.err)
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-expired:
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadTimeout bounds the next Read. Zero blocks until data arrives.
func (w *WebSocketConnection) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timeout = t
	return nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// password is remembered so reconnects do not prompt again
var (
	passwordOnce sync.Once
	password     string
	passwordErr  error
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	passwordOnce.Do(func() {
		password, passwordErr = readPassword()
	})
	return password, passwordErr
}

func readPassword() (string, error) {
	if pw := os.Getenv("BENCHTOP_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection to the
// controller described by bus
func OpenConnection(bus config.Bus) (Connection, string, error) {
	if bus.URL != "" {
		pw := ""
		if bus.Username != "" {
			var err error
			pw, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(bus.URL, bus.Username, pw, bus.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", bus.URL), nil
	}

	if bus.Port != "" {
		conn, err := OpenSerialConnection(bus.Port, bus.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", bus.Port, bus.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

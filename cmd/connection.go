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
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// pollWait bounds how long a Receive may wait for data before reporting
// rct.ErrWouldBlock.
const pollWait = time.Millisecond

// writeTimeout bounds a single Send on stream links
const writeTimeout = 2 * time.Second

// Link is a non-blocking byte stream to an inverter
type Link interface {
	rct.Transport
	io.Closer
}

// TCPLink wraps a TCP connection to the inverter
type TCPLink struct {
	conn   net.Conn
	closed atomic.Bool
}

// NewTCPLink wraps an established connection
func NewTCPLink(conn net.Conn) *TCPLink {
	return &TCPLink{conn: conn}
}

func (l *TCPLink) Send(p []byte) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := l.conn.Write(p); err != nil {
		l.closed.Store(true)
		return err
	}
	return nil
}

func (l *TCPLink) Receive(p []byte) (int, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(pollWait)); err != nil {
		return 0, err
	}
	n, err := l.conn.Read(p)
	if n > 0 {
		return n, nil
	}
	switch {
	case err == nil, errors.Is(err, os.ErrDeadlineExceeded):
		return 0, rct.ErrWouldBlock
	case errors.Is(err, io.EOF):
		l.closed.Store(true)
		return 0, nil
	default:
		l.closed.Store(true)
		return 0, err
	}
}

func (l *TCPLink) Connected() bool {
	return !l.closed.Load()
}

func (l *TCPLink) Close() error {
	l.closed.Store(true)
	return l.conn.Close()
}

// SerialLink wraps a serial port. A serial line has no peer to hang up,
// so only I/O errors end it.
type SerialLink struct {
	port   serial.Port
	closed atomic.Bool
}

func (s *SerialLink) Send(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			s.closed.Store(true)
			return err
		}
		p = p[n:]
	}
	return nil
}

func (s *SerialLink) Receive(p []byte) (int, error) {
	n, err := s.port.Read(p)
	if err != nil {
		s.closed.Store(true)
		return 0, err
	}
	if n == 0 {
		// read timeout
		return 0, rct.ErrWouldBlock
	}
	return n, nil
}

func (s *SerialLink) Connected() bool {
	return !s.closed.Load()
}

func (s *SerialLink) Close() error {
	s.closed.Store(true)
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketLink wraps a WebSocket bridge that carries the raw byte stream
// in binary messages. A reader goroutine pumps messages into a channel so
// Receive never blocks.
type WebSocketLink struct {
	conn     *websocket.Conn
	messages chan []byte
	buf      []byte

	// done is closed by Close, stopped by readLoop on exit
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
	closed  atomic.Bool
}

// NewWebSocketLink starts the reader goroutine for conn
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	w := &WebSocketLink{
		conn:     conn,
		messages: make(chan []byte, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocketLink) readLoop() {
	defer close(w.stopped)
	defer close(w.messages)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}
		// The byte stream only travels in binary messages
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		// Nobody drains messages after Close
		select {
		case w.messages <- data:
		case <-w.done:
			return
		}
	}
}

func (w *WebSocketLink) Send(p []byte) error {
	if w.closed.Load() {
		return ErrConnectionClosed
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		w.closed.Store(true)
		return err
	}
	return nil
}

func (w *WebSocketLink) Receive(p []byte) (int, error) {
	if len(w.buf) == 0 {
		select {
		case data, ok := <-w.messages:
			if !ok {
				return 0, w.finish()
			}
			w.buf = data
		default:
			return 0, rct.ErrWouldBlock
		}
	}

	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

// finish maps the reader's terminal error: a clean close frame is a peer
// hang-up, anything else a receive failure.
func (w *WebSocketLink) finish() error {
	w.closed.Store(true)
	w.mu.Lock()
	err := w.readErr
	w.mu.Unlock()

	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (w *WebSocketLink) Connected() bool {
	return !w.closed.Load()
}

func (w *WebSocketLink) Close() error {
	w.closed.Store(true)
	w.closeOnce.Do(func() { close(w.done) })
	return w.conn.Close()
}

// OpenTCPLink connects to the inverter's TCP port
func OpenTCPLink(host string, port int) (*TCPLink, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return NewTCPLink(conn), nil
}

// OpenSerialLink opens a serial port connection
func OpenSerialLink(portName string, baudRate int) (*SerialLink, error) {
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
	if err := port.SetReadTimeout(pollWait); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure serial port %s: %w", portName, err)
	}

	return &SerialLink{port: port}, nil
}

// OpenWebSocketLink opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketLink(wsURL, username, password string, skipSSLVerify bool) (*WebSocketLink, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	wsDialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		wsDialer.TLSClientConfig = &tls.Config{
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

	conn, resp, err := wsDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocketLink(conn), nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("RCT_PASSWORD"); pw != "" {
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

// dialer opens a new Link and describes it for display
type dialer func() (Link, string, error)

// linkDialer returns a dialer for the transport selected in c. The
// WebSocket password is asked for once, not on every reconnect.
func linkDialer(c Config) (dialer, error) {
	switch {
	case c.URL != "":
		password := ""
		if c.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, err
			}
		}
		return func() (Link, string, error) {
			link, err := OpenWebSocketLink(c.URL, c.Username, password, c.NoSSLVerify)
			if err != nil {
				return nil, "", err
			}
			return link, fmt.Sprintf("WebSocket: %s", c.URL), nil
		}, nil

	case c.SerialPort != "":
		return func() (Link, string, error) {
			link, err := OpenSerialLink(c.SerialPort, c.Baud)
			if err != nil {
				return nil, "", err
			}
			return link, fmt.Sprintf("Serial: %s @ %d baud", c.SerialPort, c.Baud), nil
		}, nil

	case c.Host != "":
		return func() (Link, string, error) {
			link, err := OpenTCPLink(c.Host, c.TCPPort)
			if err != nil {
				return nil, "", err
			}
			return link, fmt.Sprintf("TCP: %s", net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))), nil
		}, nil
	}

	return nil, fmt.Errorf("one of --host, --port or --url must be specified")
}

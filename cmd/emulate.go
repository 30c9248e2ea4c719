// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	emulateListen     string
	emulateWSListen   string
	emulateValues     []string
	emulateDropRate   float64
	emulateCorrupt    float64
	emulateBootloader bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run an inverter emulator that answers read requests",
	Long: `Listen for connections and answer read requests like an inverter would.

Catalogue objects answer with built-in sample values unless overridden with
--value name=number. Unknown objects are never answered, so reads of them
time out. --drop-rate and --corrupt-rate inject lost and corrupted responses
for exercising the client's timeout and checksum handling.

The emulator serves raw TCP (--listen) and optionally a WebSocket bridge
(--ws-listen) carrying the same byte stream in binary messages.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateListen, "listen", fmt.Sprintf("127.0.0.1:%d", rct.DefaultPort), "TCP listen address")
	emulateCmd.Flags().StringVar(&emulateWSListen, "ws-listen", "", "WebSocket listen address (disabled if empty)")
	emulateCmd.Flags().StringArrayVar(&emulateValues, "value", nil, "Object value as name=number (repeatable)")
	emulateCmd.Flags().Float64Var(&emulateDropRate, "drop-rate", 0, "Fraction of requests left unanswered (0-1)")
	emulateCmd.Flags().Float64Var(&emulateCorrupt, "corrupt-rate", 0, "Fraction of responses sent with a bad checksum (0-1)")
	emulateCmd.Flags().BoolVar(&emulateBootloader, "bootloader", false, "Send the bootloader magic number to each new client")
}

// defaultEmulatorValues are raw (unscaled) values for catalogue objects
var defaultEmulatorValues = map[uint32]float32{
	0x959930BF: 0.62,    // battery.soc
	0x400F015B: -850,    // g_sync.p_acc_lp
	0xA7FA5C5D: 412.5,   // battery.voltage
	0x1AC87AA0: 640,     // g_sync.p_ac_load_sum_lp
	0x91617C58: -1210.5, // g_sync.p_ac_grid_sum_lp
	0xDB2D69AE: 1850,    // g_sync.p_ac_sum_lp
	0xDB11855B: 1320,    // dc_conv.dc_conv_struct[0].p_dc_lp
	0x0CB5D21B: 690,     // dc_conv.dc_conv_struct[1].p_dc_lp
}

// requestReader reassembles read requests from the wire byte stream
type requestReader struct {
	collecting bool
	escapeNext bool
	buf        [rct.RequestSize]byte
	used       int
}

// feed consumes one wire byte and returns the id of a complete, valid
// read request.
func (r *requestReader) feed(b byte) (uint32, bool) {
	if r.escapeNext {
		r.escapeNext = false
	} else {
		switch b {
		case rct.StartByte:
			r.collecting = true
			r.used = 0
			return 0, false
		case rct.EscByte:
			r.escapeNext = true
			return 0, false
		}
	}

	if !r.collecting {
		return 0, false
	}
	r.buf[r.used] = b
	r.used++
	if r.used < len(r.buf) {
		return 0, false
	}

	r.collecting = false
	raw := r.buf[:]
	if raw[0] != rct.CmdRead || raw[1] != rct.ReadLength {
		return 0, false
	}
	crc := uint16(raw[6])<<8 | uint16(raw[7])
	if rct.CalculateCRC(raw[:6]) != crc {
		return 0, false
	}
	return uint32(raw[2])<<24 | uint32(raw[3])<<16 | uint32(raw[4])<<8 | uint32(raw[5]), true
}

// Emulator answers read requests like an inverter
type Emulator struct {
	mu          sync.Mutex
	values      map[uint32]float32
	dropRate    float64
	corruptRate float64
	bootloader  bool
	rng         *rand.Rand
	log         zerolog.Logger
}

// NewEmulator creates an emulator serving values
func NewEmulator(values map[uint32]float32, log zerolog.Logger) *Emulator {
	v := make(map[uint32]float32, len(values))
	for id, value := range values {
		v[id] = value
	}
	return &Emulator{
		values: v,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    log,
	}
}

// SetValue changes the value returned for id
func (e *Emulator) SetValue(id uint32, value float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[id] = value
}

// SetFaults sets the fractions of requests left unanswered and of
// responses sent with a corrupted checksum.
func (e *Emulator) SetFaults(dropRate, corruptRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropRate = dropRate
	e.corruptRate = corruptRate
}

// respond returns the wire bytes answering a read of id, or nil when the
// request goes unanswered.
func (e *Emulator) respond(id uint32) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, ok := e.values[id]
	if !ok {
		e.log.Debug().Str("id", fmt.Sprintf("0x%08X", id)).Msg("unknown object, not answering")
		return nil
	}
	if e.dropRate > 0 && e.rng.Float64() < e.dropRate {
		e.log.Debug().Str("id", fmt.Sprintf("0x%08X", id)).Msg("dropping response")
		return nil
	}

	raw := rct.BuildResponse(id, value)
	if e.corruptRate > 0 && e.rng.Float64() < e.corruptRate {
		raw[len(raw)-1] ^= 0x01
		e.log.Debug().Str("id", fmt.Sprintf("0x%08X", id)).Msg("corrupting response")
	}
	return append([]byte{rct.StartByte}, rct.StuffBytes(raw[:])...)
}

// handle feeds received bytes through reader and returns the responses
func (e *Emulator) handle(reader *requestReader, data []byte) []byte {
	var out []byte
	for _, b := range data {
		if id, ok := reader.feed(b); ok {
			out = append(out, e.respond(id)...)
		}
	}
	return out
}

func bootloaderMagic() []byte {
	m := rct.BootloaderMagic
	return []byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}
}

// Serve accepts TCP clients on ln until ctx ends
func (e *Emulator) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go e.serveConn(ctx, conn)
	}
}

func (e *Emulator) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	e.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if e.bootloader {
		if _, err := conn.Write(bootloaderMagic()); err != nil {
			return
		}
	}

	var reader requestReader
	buf := make([]byte, 128)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			e.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client disconnected")
			return
		}
		if out := e.handle(&reader, buf[:n]); len(out) > 0 {
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
	}
}

// ServeHTTP bridges a WebSocket client to the emulator
func (e *Emulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	e.log.Info().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	if e.bootloader {
		if err := conn.WriteMessage(websocket.BinaryMessage, bootloaderMagic()); err != nil {
			return
		}
	}

	var reader requestReader
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			e.log.Info().Str("remote", r.RemoteAddr).Msg("websocket client disconnected")
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		if out := e.handle(&reader, data); len(out) > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}
}

// parseEmulatorValues parses name=number overrides
func parseEmulatorValues(entries []string) (map[uint32]float32, error) {
	values := make(map[uint32]float32, len(defaultEmulatorValues)+len(entries))
	for id, v := range defaultEmulatorValues {
		values[id] = v
	}
	for _, entry := range entries {
		name, raw, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --value %q: expected name=number", entry)
		}
		id, err := rct.ParseObjectID(name)
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid --value %q: %w", entry, err)
		}
		values[id] = float32(v)
	}
	return values, nil
}

func runEmulate(cmd *cobra.Command, args []string) error {
	values, err := parseEmulatorValues(emulateValues)
	if err != nil {
		return err
	}
	if emulateDropRate < 0 || emulateDropRate > 1 || emulateCorrupt < 0 || emulateCorrupt > 1 {
		return fmt.Errorf("--drop-rate and --corrupt-rate must be between 0 and 1")
	}

	emu := NewEmulator(values, logger)
	emu.SetFaults(emulateDropRate, emulateCorrupt)
	emu.bootloader = emulateBootloader

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	ln, err := net.Listen("tcp", emulateListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", emulateListen, err)
	}

	fmt.Printf("rctstat - Inverter Emulator\n")
	fmt.Printf("TCP: %s\n", ln.Addr())

	errs := make(chan error, 2)
	go func() { errs <- emu.Serve(ctx, ln) }()

	if emulateWSListen != "" {
		srv := &http.Server{Addr: emulateWSListen, Handler: emu}
		fmt.Printf("WebSocket: ws://%s/\n", emulateWSListen)
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
				return
			}
			errs <- nil
		}()
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	select {
	case err := <-errs:
		cancel()
		return err
	case <-ctx.Done():
		return nil
	}
}

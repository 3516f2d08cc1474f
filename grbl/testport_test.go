// SPDX-FileCopyrightText: 2025 夕月霞
// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// fakeSerialPort is a minimal in-memory stand-in for serial.Port, letting
// the poller/streamer/port tests run without hardware. Reads are served
// from a scripted queue of responses (one per ReadLine call); writes are
// recorded for assertions.
//
// Exhaustion and emptyNilReads both return (0, nil) rather than an error:
// that is go.bug.st/serial's actual SetReadTimeout contract (the deadline
// elapsed with no data available), not io.EOF. A fake that returned io.EOF
// here would mask the exact bug this type exists to catch — Port.ReadLine
// must treat a (0, nil) Read as an immediate timeout, not retry it.
type fakeSerialPort struct {
	mu        sync.Mutex
	responses [][]byte
	reads     int
	written   []string
	writeErr  error
	readErr   error
	readCalls int
	// emptyNilReads is how many leading Read calls return (0, nil)
	// before any scripted response is served.
	emptyNilReads int
}

func newFakeSerialPort(responses ...string) *fakeSerialPort {
	f := &fakeSerialPort{}
	for _, r := range responses {
		f.responses = append(f.responses, []byte(r+"\n"))
	}
	return f
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls++
	if f.readErr != nil {
		return 0, f.readErr
	}
	if f.readCalls <= f.emptyNilReads {
		return 0, nil
	}
	if f.reads >= len(f.responses) {
		return 0, nil
	}
	resp := f.responses[f.reads]
	f.reads++
	n := copy(p, resp)
	return n, nil
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func (f *fakeSerialPort) Close() error                                  { return nil }
func (f *fakeSerialPort) SetMode(mode *serial.Mode) error               { return nil }
func (f *fakeSerialPort) Drain() error                                  { return nil }
func (f *fakeSerialPort) ResetInputBuffer() error                       { return nil }
func (f *fakeSerialPort) ResetOutputBuffer() error                      { return nil }
func (f *fakeSerialPort) SetDTR(dtr bool) error                         { return nil }
func (f *fakeSerialPort) SetRTS(rts bool) error                         { return nil }
func (f *fakeSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}
func (f *fakeSerialPort) SetReadTimeout(t time.Duration) error { return nil }

var errFakeWrite = errors.New("fake write failure")

func newPortWithFake(fake *fakeSerialPort) *Port {
	return &Port{
		conn: fake,
		name: "FAKE",
	}
}

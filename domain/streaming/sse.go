// Package streaming implements the server-sent events framing the
// gateway uses on both sides: reading upstream completion streams and
// writing frames to clients. Only data fields carry payloads here;
// event names and IDs are not part of the protocol the gateway speaks.
package streaming

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Scanner yields the data payloads of an SSE stream, one event at a
// time. Comment lines and non-data fields are skipped; consecutive
// data lines within one event are joined with newlines per the SSE
// specification.
type Scanner struct {
	s       *bufio.Scanner
	data    []string
	current string
	done    bool
}

// NewScanner wraps r. maxLine bounds a single line's length; zero or
// negative keeps bufio's default.
func NewScanner(r io.Reader, maxLine int) *Scanner {
	s := bufio.NewScanner(r)
	if maxLine > 0 {
		s.Buffer(make([]byte, 0, 64<<10), maxLine)
	}
	return &Scanner{s: s}
}

// Next advances to the next event that has a data payload. It returns
// false at end of stream or on read error; Err tells which.
func (sc *Scanner) Next() bool {
	if sc.done {
		return false
	}

	for sc.s.Scan() {
		line := strings.TrimRight(sc.s.Text(), "\r")

		// Blank line ends the event.
		if line == "" {
			if len(sc.data) > 0 {
				sc.current = strings.Join(sc.data, "\n")
				sc.data = sc.data[:0]
				return true
			}
			continue
		}

		// Comment line.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field != "data" {
			continue
		}
		sc.data = append(sc.data, strings.TrimPrefix(value, " "))
	}

	sc.done = true

	// A final event without a terminating blank line still counts.
	if len(sc.data) > 0 {
		sc.current = strings.Join(sc.data, "\n")
		sc.data = nil
		return true
	}
	return false
}

// Data returns the payload of the current event.
func (sc *Scanner) Data() string {
	return sc.current
}

// Err returns the first read error encountered, if any.
func (sc *Scanner) Err() error {
	return sc.s.Err()
}

// WriteData writes one data frame.
func WriteData(w io.Writer, payload []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

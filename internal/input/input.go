// Package input turns a line-oriented source (a terminal or a redirected
// file) into payloads for the protocol engine.
package input

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/1ureka/uap/internal/protocol"
)

// QuitToken ends an interactive session like end of input does.
const QuitToken = "q"

// ErrQuit is returned by Next when an interactive user typed QuitToken.
var ErrQuit = errors.New("quit requested")

// Reader yields one payload per input line, without the line terminator.
type Reader struct {
	scanner     *bufio.Scanner
	interactive bool
}

// NewReader wraps r. The quit token is honoured only when interactive is
// set, so a file can carry a literal "q" line.
func NewReader(r io.Reader, interactive bool) *Reader {
	sc := bufio.NewScanner(r)
	// room for the longest payload plus its newline
	sc.Buffer(make([]byte, 0, 4096), protocol.MaxPayloadSize+1)
	return &Reader{scanner: sc, interactive: interactive}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether the quit token is honoured.
func (r *Reader) Interactive() bool {
	return r.interactive
}

// Next returns the next line. At end of input it returns io.EOF; after the
// quit token it returns ErrQuit. Lines longer than the maximum payload
// return bufio.ErrTooLong.
func (r *Reader) Next() ([]byte, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := strings.TrimSuffix(r.scanner.Text(), "\r")
	if r.interactive && line == QuitToken {
		return nil, ErrQuit
	}
	return []byte(line), nil
}

// WaitQuit blocks until end of input or the quit token and returns the
// reason. Other lines are ignored.
func (r *Reader) WaitQuit() error {
	for {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
}

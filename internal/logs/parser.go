package logs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Line is one decoded log line with trailing whitespace removed.
type Line struct {
	Stream string
	Text   string
}

// ParseDockerStream decodes a docker log stream and calls emit for every line
// in arrival order. It returns nil when the stream ends cleanly and the read
// error otherwise. Multiplexed and raw (TTY) streams are both accepted.
func ParseDockerStream(r io.Reader, emit func(Line)) error {
	br := bufio.NewReader(r)
	multiplexed, err := detectMultiplex(br)
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if !multiplexed {
		return parsePlainStream(br, emit)
	}
	out := &splitter{emit: emit}
	defer out.flush()
	for {
		header, err := br.Peek(8)
		if err != nil {
			if err == io.EOF && len(header) == 0 {
				return nil
			}
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		_, _ = br.Discard(8)
		stream := StreamStdout
		if header[0] == 2 {
			stream = StreamStderr
		}
		size := binary.BigEndian.Uint32(header[4:])
		if size == 0 {
			continue
		}
		payload := make([]byte, int(size))
		if _, err := io.ReadFull(br, payload); err != nil {
			return err
		}
		out.write(stream, payload)
	}
}

// detectMultiplex decides from the first bytes whether the stream carries
// 8-byte frame headers. It only waits for a full header while the bytes seen
// so far could still start one, so a short first TTY line is not held back.
func detectMultiplex(br *bufio.Reader) (bool, error) {
	if _, err := br.Peek(1); err != nil {
		return false, err
	}
	head, _ := br.Peek(br.Buffered())
	if !couldBeHeader(head) {
		return false, nil
	}
	if len(head) >= 8 {
		return true, nil
	}
	head, err := br.Peek(8)
	if err != nil {
		if len(head) > 0 && err == io.EOF {
			return false, nil
		}
		return false, err
	}
	return couldBeHeader(head), nil
}

// couldBeHeader reports whether b is a prefix of a multiplex header: a
// stream byte of 1 or 2 followed by three zero bytes.
func couldBeHeader(b []byte) bool {
	if len(b) == 0 || (b[0] != 1 && b[0] != 2) {
		return false
	}
	for i := 1; i < len(b) && i < 4; i++ {
		if b[i] != 0 {
			return false
		}
	}
	return true
}

func parsePlainStream(br *bufio.Reader, emit func(Line)) error {
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			emit(Line{Stream: StreamStdout, Text: sanitize(raw)})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// splitter turns frame payloads into lines. A frame may carry several lines
// or part of one, so an unterminated tail is held per stream until its
// newline arrives or the stream ends.
type splitter struct {
	emit    func(Line)
	pending map[string][]byte
}

func (s *splitter) write(stream string, payload []byte) {
	buf := payload
	if prev := s.pending[stream]; len(prev) > 0 {
		buf = append(prev, payload...)
		delete(s.pending, stream)
	}
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		s.emit(Line{Stream: stream, Text: sanitize(buf[:i])})
		buf = buf[i+1:]
	}
	if len(buf) > 0 {
		if s.pending == nil {
			s.pending = map[string][]byte{}
		}
		s.pending[stream] = append([]byte(nil), buf...)
	}
}

func (s *splitter) flush() {
	for _, stream := range []string{StreamStdout, StreamStderr} {
		if rest := s.pending[stream]; len(rest) > 0 {
			s.emit(Line{Stream: stream, Text: sanitize(rest)})
		}
	}
	s.pending = nil
}

func sanitize(raw []byte) string {
	msg := strings.TrimRight(string(raw), " \t\r\n")
	msg = strings.ReplaceAll(msg, "\x00", "")
	if !utf8.ValidString(msg) {
		msg = strings.ToValidUTF8(msg, "�")
	}
	return msg
}

package comm

import (
	"io"
	"time"
)

// Deadliner describes connections whose reads and writes can be given
// deadlines; net.Conn satisfies it
type Deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type terminator struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator wraps rw in framing logic: writes have tx appended if not
// already present, and reads accumulate from the underlying connection until
// rx is seen.  The read result has trailing carriage returns and newlines
// stripped, so "ok\r\n" comes back as "ok".  Deadline calls are forwarded to
// rw if it supports them.
func NewTerminator(rw io.ReadWriter, rx, tx byte) io.ReadWriter {
	if d, ok := rw.(Deadliner); ok {
		return terminatorDeadline{terminator{rw: rw, rx: rx, tx: tx}, d}
	}
	return terminator{rw: rw, rx: rx, tx: tx}
}

func (t terminator) Write(b []byte) (int, error) {
	if len(b) == 0 || b[len(b)-1] != t.tx {
		b = append(b, t.tx)
	}
	return t.rw.Write(b)
}

func (t terminator) Read(b []byte) (int, error) {
	// read byte-at-a-time conceptually; in practice the kernel buffers and
	// the underlying Read returns whatever has arrived, so scan each chunk
	// for the terminator
	total := 0
	for {
		if total == len(b) {
			return total, ErrBufferFull
		}
		n, err := t.rw.Read(b[total:])
		total += n
		if err != nil {
			return total, err
		}
		for i := total - n; i < total; i++ {
			if b[i] == t.rx {
				// do not hand the terminator or a preceding \r to the caller
				end := i
				for end > 0 && (b[end-1] == '\r' || b[end-1] == '\n') {
					end--
				}
				return end, nil
			}
		}
	}
}

type terminatorDeadline struct {
	terminator
	d Deadliner
}

func (t terminatorDeadline) SetReadDeadline(tt time.Time) error  { return t.d.SetReadDeadline(tt) }
func (t terminatorDeadline) SetWriteDeadline(tt time.Time) error { return t.d.SetWriteDeadline(tt) }

type timeout struct {
	rw io.ReadWriter
	d  Deadliner
	to time.Duration
}

// NewTimeout wraps rw such that each Read and Write carries a deadline of
// d from the time the call is made.  An error is returned if rw cannot
// express deadlines.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	dl, ok := rw.(Deadliner)
	if !ok {
		return nil, ErrNoDeadlineSupport
	}
	return timeout{rw: rw, d: dl, to: d}, nil
}

func (t timeout) Read(b []byte) (int, error) {
	if err := t.d.SetReadDeadline(time.Now().Add(t.to)); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

func (t timeout) Write(b []byte) (int, error) {
	if err := t.d.SetWriteDeadline(time.Now().Add(t.to)); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

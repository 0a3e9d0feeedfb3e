package kvmsg

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the capacity of a Decoder's read buffer.
const DefaultBufferSize = 512 * 1024

// ErrBufferFull reports that the read buffer holds a partial frame
// larger than its capacity. The peer is misbehaving if this happens.
var ErrBufferFull = errors.New("kvmsg: read buffer full")

// Decoder accumulates bytes from a descriptor and yields complete
// frames. Partial trailing bytes stay buffered for the next read.
//
// The buffer has a fixed capacity; it is compacted, never grown. One
// Decoder serves one connection for the life of the process.
type Decoder struct {
	buf  []byte
	off  int // start of unconsumed data
	end  int // end of valid data
	vecs int
}

// NewDecoder returns a Decoder with the given buffer capacity.
// Size <= 0 selects DefaultBufferSize.
func NewDecoder(size int) *Decoder {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Decoder{buf: make([]byte, size)}
}

// ReadFrom reads once from fd into the buffer. It returns the number of
// bytes read; (0, nil) means the peer closed the connection. EINTR is
// retried; EAGAIN is returned to the caller.
func (d *Decoder) ReadFrom(fd int) (int, error) {
	if d.end == len(d.buf) {
		d.compact()
		if d.end == len(d.buf) {
			return 0, ErrBufferFull
		}
	}
	for {
		n, err := unix.Read(fd, d.buf[d.end:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		d.end += n
		return n, nil
	}
}

// Next extracts the next complete frame, if any, and decodes it. The
// returned vector owns its bytes; the buffer may be overwritten by the
// following ReadFrom.
func (d *Decoder) Next() (KVVec, bool) {
	idx := bytes.Index(d.buf[d.off:d.end], []byte(Delim))
	if idx < 0 {
		d.compact()
		return nil, false
	}
	frame := d.buf[d.off : d.off+idx]
	d.off += idx + len(Delim)
	d.vecs++
	return Decode(frame), true
}

// Buffered returns the number of unconsumed bytes.
func (d *Decoder) Buffered() int {
	return d.end - d.off
}

// Frames returns the number of frames decoded so far.
func (d *Decoder) Frames() int {
	return d.vecs
}

// Feed appends raw bytes directly, for callers that read the stream
// themselves (the bench harness uses this with an *os.File).
func (d *Decoder) Feed(p []byte) error {
	if d.end+len(p) > len(d.buf) {
		d.compact()
		if d.end+len(p) > len(d.buf) {
			return ErrBufferFull
		}
	}
	d.end += copy(d.buf[d.end:], p)
	return nil
}

func (d *Decoder) compact() {
	if d.off == 0 {
		return
	}
	copy(d.buf, d.buf[d.off:d.end])
	d.end -= d.off
	d.off = 0
}

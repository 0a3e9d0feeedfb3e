// Package kvmsg implements the key/value message codec spoken on the
// master control socket.
//
// Messages ("frames") are byte strings terminated by the three-byte
// delimiter \x01\x00\x00. Inside a frame, pairs are laid out as
// key=value with a NUL after every pair, including the last one, so a
// full frame on the wire looks like:
//
//	key=value\x00key=value\x00\x01\x00\x00
//
// Keys need not be unique, order is preserved, and values may contain
// '=' bytes. The framing is wire-exact; both the worker and the master
// side of the bench harness use this package.
package kvmsg

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Delim is the frame delimiter.
const Delim = "\x01\x00\x00"

const (
	pairSep = 0x00
	kvSep   = '='
)

// ErrBrokenPipe reports that the peer has gone away. Callers treat this
// as fatal for the connection.
var ErrBrokenPipe = errors.New("kvmsg: broken pipe")

// KV is a single key/value pair. Both halves are raw bytes; values may
// contain arbitrary binary data except NUL (which the wire format
// cannot carry inside a value).
type KV struct {
	Key   []byte
	Value []byte
}

// KVVec is an ordered key/value vector. Duplicate keys are allowed.
type KVVec []KV

// Add appends a string pair.
func (v *KVVec) Add(key, value string) {
	*v = append(*v, KV{Key: []byte(key), Value: []byte(value)})
}

// AddBytes appends a pair with a raw byte value.
func (v *KVVec) AddBytes(key string, value []byte) {
	*v = append(*v, KV{Key: []byte(key), Value: value})
}

// Addf appends a pair with a formatted value.
func (v *KVVec) Addf(key, format string, args ...any) {
	v.Add(key, fmt.Sprintf(format, args...))
}

// Get returns the value of the first pair with the given key.
func (v KVVec) Get(key string) ([]byte, bool) {
	for _, kv := range v {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// GetString is Get with a string result, empty when absent.
func (v KVVec) GetString(key string) string {
	b, _ := v.Get(key)
	return string(b)
}

// EncodedLen returns the number of bytes Encode will produce.
func (v KVVec) EncodedLen() int {
	n := len(Delim)
	for _, kv := range v {
		n += len(kv.Key) + 1 + len(kv.Value) + 1
	}
	return n
}

// Encode serializes the vector into a single frame, delimiter included.
func (v KVVec) Encode() []byte {
	buf := make([]byte, 0, v.EncodedLen())
	for _, kv := range v {
		buf = append(buf, kv.Key...)
		buf = append(buf, kvSep)
		buf = append(buf, kv.Value...)
		buf = append(buf, pairSep)
	}
	return append(buf, Delim...)
}

// Decode parses the body of one frame (delimiter already stripped) into
// a vector. Key and value bytes are copied out of buf, so the caller
// may reuse buf for the next read. A pair without '=' decodes as a key
// with an empty value; the codec never rejects a frame.
func Decode(buf []byte) KVVec {
	var v KVVec
	for len(buf) > 0 {
		end := bytes.IndexByte(buf, pairSep)
		var pair []byte
		if end < 0 {
			pair, buf = buf, nil
		} else {
			pair, buf = buf[:end], buf[end+1:]
		}
		if len(pair) == 0 {
			continue
		}
		var kv KV
		if eq := bytes.IndexByte(pair, kvSep); eq < 0 {
			kv.Key = append([]byte(nil), pair...)
		} else {
			kv.Key = append([]byte(nil), pair[:eq]...)
			kv.Value = append([]byte(nil), pair[eq+1:]...)
		}
		v = append(v, kv)
	}
	return v
}

// SendKV encodes the vector and writes it to fd in one call. A write
// failing with EPIPE is reported as ErrBrokenPipe. Short writes are not
// retried; the socket's send buffer is sized so whole frames fit.
func SendKV(fd int, v KVVec) error {
	buf := v.Encode()
	n, err := unix.Write(fd, buf)
	if err != nil {
		if err == unix.EPIPE {
			return fmt.Errorf("%w: %v", ErrBrokenPipe, err)
		}
		return fmt.Errorf("kvmsg: write: %w", err)
	}
	if n < len(buf) {
		return fmt.Errorf("kvmsg: short write: %d of %d bytes", n, len(buf))
	}
	return nil
}

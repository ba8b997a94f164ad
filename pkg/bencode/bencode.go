// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bencode implements the bencode serialization format used by
// BitTorrent metainfo files.
//
// The encoder always emits dictionary keys in ascending byte order. That is
// the canonical form required for infohash computation: two structurally
// equal dictionaries encode to identical bytes no matter how they were built.
package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrMalformed is returned when input bytes do not parse as bencode.
var ErrMalformed = errors.New("malformed bencode")

// Value is one bencoded value: Integer, Bytes, List or Dict.
type Value interface {
	bencodeValue()
}

// Integer is a bencoded integer.
type Integer int64

// Bytes is a bencoded byte string. It is not required to be valid UTF-8.
type Bytes []byte

// List is an ordered sequence of values.
type List []Value

// Dict maps byte-string keys to values. Keys are stored as Go strings,
// which may hold arbitrary bytes.
type Dict map[string]Value

func (Integer) bencodeValue() {}
func (Bytes) bencodeValue()   {}
func (List) bencodeValue()    {}
func (Dict) bencodeValue()    {}

// Clone returns a shallow copy of the dictionary.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Decode parses a single bencoded value from the front of data and returns
// it along with the number of bytes consumed.
func Decode(data []byte) (Value, int, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, d.pos, err
	}
	return v, d.pos, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.data) {
		return nil, fmt.Errorf("%w: unexpected end of input at offset %d", ErrMalformed, d.pos)
	}

	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c >= '0' && c <= '9':
		return d.byteString()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	default:
		return nil, fmt.Errorf("%w: unexpected byte %q at offset %d", ErrMalformed, c, d.pos)
	}
}

func (d *decoder) integer() (Value, error) {
	start := d.pos
	d.pos++ // consume 'i'

	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated integer at offset %d", ErrMalformed, start)
	}

	raw := d.data[d.pos : d.pos+end]
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integer %q at offset %d", ErrMalformed, raw, start)
	}

	d.pos += end + 1
	return Integer(n), nil
}

func (d *decoder) byteString() (Value, error) {
	start := d.pos

	sep := bytes.IndexByte(d.data[d.pos:], ':')
	if sep < 0 {
		return nil, fmt.Errorf("%w: missing string length separator at offset %d", ErrMalformed, start)
	}

	length, err := strconv.Atoi(string(d.data[d.pos : d.pos+sep]))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: invalid string length at offset %d", ErrMalformed, start)
	}

	d.pos += sep + 1
	// Compare against the remaining bytes so a near-MaxInt length prefix
	// cannot overflow the bound.
	if length > len(d.data)-d.pos {
		return nil, fmt.Errorf("%w: string of length %d truncated at offset %d", ErrMalformed, length, start)
	}

	out := make(Bytes, length)
	copy(out, d.data[d.pos:d.pos+length])
	d.pos += length
	return out, nil
}

func (d *decoder) list() (Value, error) {
	start := d.pos
	d.pos++ // consume 'l'

	out := List{}
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("%w: unterminated list at offset %d", ErrMalformed, start)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return out, nil
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (d *decoder) dict() (Value, error) {
	start := d.pos
	d.pos++ // consume 'd'

	out := Dict{}
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("%w: unterminated dictionary at offset %d", ErrMalformed, start)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return out, nil
		}

		keyPos := d.pos
		key, err := d.value()
		if err != nil {
			return nil, err
		}
		keyBytes, ok := key.(Bytes)
		if !ok {
			return nil, fmt.Errorf("%w: dictionary key at offset %d is not a byte string", ErrMalformed, keyPos)
		}

		val, err := d.value()
		if err != nil {
			return nil, err
		}
		out[string(keyBytes)] = val
	}
}

// Encode serializes a value to canonical bencode. Dictionary keys are
// emitted in strictly ascending byte order regardless of map iteration
// order.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encode(&buf, v)
	return buf.Bytes()
}

func encode(buf *bytes.Buffer, v Value) {
	switch v := v.(type) {
	case Integer:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(int64(v), 10))
		buf.WriteByte('e')
	case Bytes:
		buf.WriteString(strconv.Itoa(len(v)))
		buf.WriteByte(':')
		buf.Write(v)
	case List:
		buf.WriteByte('l')
		for _, item := range v {
			encode(buf, item)
		}
		buf.WriteByte('e')
	case Dict:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('d')
		for _, k := range keys {
			encode(buf, Bytes(k))
			encode(buf, v[k])
		}
		buf.WriteByte('e')
	}
}

package dbus

import (
	"bufio"
	"fmt"
	"io"
)

// decodedHeader is the subset of the D-Bus fixed + variable header this
// client actually consumes.
type decodedHeader struct {
	msgType     messageType
	bodyLength  uint32
	serial      uint32
	replySerial uint32
	signature   string
	errorName   string
	member      string
}

// encodeMethodCall serializes spec into a complete D-Bus wire message
// with the given serial. Arguments are scalar-only (spec.md §4.3's
// signature-to-JSON mapping never needs container types for the agent
// surface), so body encoding never has to deal with array/struct
// padding beyond the header fields array itself.
func encodeMethodCall(serial uint32, spec callSpec) ([]byte, error) {
	bodyW := &writer{}
	for i, code := range []byte(spec.signature) {
		if i >= len(spec.args) {
			return nil, fmt.Errorf("dbus: signature %q longer than %d args", spec.signature, len(spec.args))
		}
		if err := marshalScalar(bodyW, code, spec.args[i]); err != nil {
			return nil, err
		}
	}
	body := bodyW.bytes()

	w := &writer{}
	w.byte('l')                         // little-endian
	w.byte(byte(msgTypeMethodCall))
	w.byte(0) // flags: no NO_REPLY_EXPECTED, no NO_AUTO_START
	w.byte(1) // protocol version
	w.uint32(uint32(len(body)))
	w.uint32(serial)

	fieldsW := &writer{}
	writeHeaderFieldString(fieldsW, fieldPath, "o", spec.path)
	writeHeaderFieldString(fieldsW, fieldInterface, "s", spec.iface)
	writeHeaderFieldString(fieldsW, fieldMember, "s", spec.member)
	if spec.destination != "" {
		writeHeaderFieldString(fieldsW, fieldDestination, "s", spec.destination)
	}
	if spec.signature != "" {
		fieldsW.align(8)
		fieldsW.byte(fieldSignature)
		fieldsW.signatureValue("g")
		fieldsW.signatureValue(spec.signature)
	}
	fieldBytes := fieldsW.bytes()

	w.uint32(uint32(len(fieldBytes)))
	w.align(8)
	w.buf.Write(fieldBytes)
	w.align(8) // header (fixed + fields) always ends 8-byte aligned before body

	w.buf.Write(body)
	return w.bytes(), nil
}

func writeHeaderFieldString(w *writer, code byte, sig, value string) {
	w.align(8)
	w.byte(code)
	w.signatureValue(sig)
	w.string(value)
}

// readMessage reads one complete D-Bus message from br: the 16-byte
// fixed header, the header-fields array, then the body.
func readMessage(br *bufio.Reader) (decodedHeader, []byte, error) {
	fixed := make([]byte, 16)
	if _, err := io.ReadFull(br, fixed); err != nil {
		return decodedHeader{}, nil, fmt.Errorf("dbus: read fixed header: %w", err)
	}
	if fixed[0] != 'l' {
		return decodedHeader{}, nil, fmt.Errorf("dbus: unsupported byte order %q (only little-endian supported)", fixed[0])
	}
	hdr := decodedHeader{msgType: messageType(fixed[1])}

	r := newReader(fixed[4:])
	bodyLen, err := r.uint32()
	if err != nil {
		return decodedHeader{}, nil, err
	}
	serial, err := r.uint32()
	if err != nil {
		return decodedHeader{}, nil, err
	}
	hdr.bodyLength = bodyLen
	hdr.serial = serial

	// The last word of the 16-byte fixed header (offset 12) is the
	// header-fields array length; the array starts at offset 16, which is
	// already 8-aligned, so no padding precedes it.
	fieldsLen := (&reader{buf: fixed[12:16]}).mustUint32()
	const afterFixedAndLen = 16
	pad := (8 - afterFixedAndLen%8) % 8
	if pad > 0 {
		if _, err := io.CopyN(io.Discard, br, int64(pad)); err != nil {
			return decodedHeader{}, nil, fmt.Errorf("dbus: skip header padding: %w", err)
		}
	}

	fieldBytes := make([]byte, fieldsLen)
	if _, err := io.ReadFull(br, fieldBytes); err != nil {
		return decodedHeader{}, nil, fmt.Errorf("dbus: read header fields: %w", err)
	}
	if err := decodeHeaderFields(fieldBytes, &hdr); err != nil {
		return decodedHeader{}, nil, err
	}

	// Body starts at the next 8-byte boundary measured from the start of
	// the message: fixed(16) + pad + fieldsLen, rounded up to 8.
	offset := 16 + pad + int(fieldsLen)
	bodyPad := (8 - offset%8) % 8
	if bodyPad > 0 {
		if _, err := io.CopyN(io.Discard, br, int64(bodyPad)); err != nil {
			return decodedHeader{}, nil, fmt.Errorf("dbus: skip body padding: %w", err)
		}
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(br, body); err != nil {
			return decodedHeader{}, nil, fmt.Errorf("dbus: read body: %w", err)
		}
	}
	return hdr, body, nil
}

func (r *reader) mustUint32() uint32 {
	v, _ := r.uint32()
	return v
}

// decodeHeaderFields walks the a(yv) header-fields array, extracting
// only the fields this client inspects.
func decodeHeaderFields(b []byte, hdr *decodedHeader) error {
	r := newReader(b)
	for r.pos < len(b) {
		r.align(8)
		if r.pos >= len(b) {
			break
		}
		code, err := r.byte()
		if err != nil {
			return err
		}
		sig, err := r.signatureValue()
		if err != nil {
			return err
		}
		if len(sig) == 0 {
			continue
		}
		val, err := unmarshalScalar(r, sig[0])
		if err != nil {
			return err
		}
		switch code {
		case fieldReplySerial:
			if n, ok := val.(int64); ok {
				hdr.replySerial = uint32(n)
			}
		case fieldSignature:
			if s, ok := val.(string); ok {
				hdr.signature = s
			}
		case fieldErrorName:
			if s, ok := val.(string); ok {
				hdr.errorName = s
			}
		case fieldMember:
			if s, ok := val.(string); ok {
				hdr.member = s
			}
		}
	}
	return nil
}

// decodeBody reads a body per its signature, producing one JSON-friendly
// value per top-level type code. Container types are not supported by
// this minimal client — a caller expecting a complex reply should treat
// it as opaque, per spec.md §4.3's "complex bodies" fallback.
func decodeBody(signature string, body []byte) ([]any, error) {
	r := newReader(body)
	out := make([]any, 0, len(signature))
	for _, code := range []byte(signature) {
		v, err := unmarshalScalar(r, code)
		if err != nil {
			return nil, fmt.Errorf("dbus: decode arg of type %q: %w", code, err)
		}
		out = append(out, v)
	}
	return out, nil
}

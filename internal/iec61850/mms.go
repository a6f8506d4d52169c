package iec61850

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

// Transport constants, RFC 1006 and ISO 8073 class 0.
const (
	tpktVersion   = 3
	tpktHeaderLen = 4

	cotpConnectRequest = 0xE0
	cotpConnectConfirm = 0xD0
	cotpData           = 0xF0
	cotpEOT            = 0x80
)

// MMS PDU tags and Data choice tags.
const (
	tagConfirmedRequest  = 0xA0
	tagConfirmedResponse = 0xA1
	tagConfirmedError    = 0xA2
	tagInitiateRequest   = 0xA8
	tagInitiateResponse  = 0xA9

	serviceRead  = 0xA4
	serviceWrite = 0xA5

	dataFloatTag   = 0x87
	dataBitStrTag  = 0x84
	dataVisStrTag  = 0x8A
	dataUTCTimeTag = 0x91

	writeFailureTag = 0x80
	writeSuccessTag = 0x81
)

// Seconds between the 1900 and 1970 epochs, for UTC time encoding.
const ntpEpochOffset = 2208988800

var (
	ErrTPKT        = errors.New("iec61850: malformed tpkt header")
	ErrCOTP        = errors.New("iec61850: unexpected cotp tpdu")
	ErrBER         = errors.New("iec61850: malformed ber element")
	ErrSession     = errors.New("iec61850: malformed session data")
	ErrServiceFail = errors.New("iec61850: service failure")
	ErrInitiate    = errors.New("iec61850: association rejected")
)

func writeTPKT(w io.Writer, payload []byte) error {
	buf := make([]byte, tpktHeaderLen+len(payload))
	buf[0] = tpktVersion
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(buf)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

func readTPKT(r io.Reader) ([]byte, error) {
	var hdr [tpktHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != tpktVersion {
		return nil, fmt.Errorf("%w: version %d", ErrTPKT, hdr[0])
	}
	n := int(binary.BigEndian.Uint16(hdr[2:4]))
	if n < tpktHeaderLen {
		return nil, fmt.Errorf("%w: length %d", ErrTPKT, n)
	}
	payload := make([]byte, n-tpktHeaderLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// cotpHandshake performs the class 0 connection exchange.
func cotpHandshake(conn net.Conn) error {
	cr := []byte{
		17, cotpConnectRequest,
		0x00, 0x00, // dst-ref
		0x00, 0x01, // src-ref
		0x00,             // class 0
		0xC0, 0x01, 0x0A, // tpdu size 1024
		0xC1, 0x02, 0x00, 0x00, // calling tsap
		0xC2, 0x02, 0x00, 0x01, // called tsap
	}
	if err := writeTPKT(conn, cr); err != nil {
		return err
	}
	resp, err := readTPKT(conn)
	if err != nil {
		return err
	}
	if len(resp) < 2 || resp[1] != cotpConnectConfirm {
		return fmt.Errorf("%w: waiting for connect confirm", ErrCOTP)
	}
	return nil
}

// cotpSend wraps payload in one data TPDU.
func cotpSend(conn net.Conn, payload []byte) error {
	buf := make([]byte, 3+len(payload))
	buf[0] = 2
	buf[1] = cotpData
	buf[2] = cotpEOT
	copy(buf[3:], payload)
	return writeTPKT(conn, buf)
}

// cotpReceive reads data TPDUs until the end-of-transmission mark.
func cotpReceive(conn net.Conn) ([]byte, error) {
	var out []byte
	for {
		tpdu, err := readTPKT(conn)
		if err != nil {
			return nil, err
		}
		if len(tpdu) < 3 || tpdu[1] != cotpData {
			return nil, fmt.Errorf("%w: code 0x%02x", ErrCOTP, tpdu[1])
		}
		out = append(out, tpdu[3:]...)
		if tpdu[2]&cotpEOT != 0 {
			return out, nil
		}
	}
}

func berLen(n int) []byte {
	switch {
	case n < 0x80:
		return []byte{byte(n)}
	case n <= 0xFF:
		return []byte{0x81, byte(n)}
	default:
		return []byte{0x82, byte(n >> 8), byte(n)}
	}
}

// tlv concatenates content parts under one tag.
func tlv(tag byte, content ...[]byte) []byte {
	total := 0
	for _, c := range content {
		total += len(c)
	}
	out := make([]byte, 0, 4+total)
	out = append(out, tag)
	out = append(out, berLen(total)...)
	for _, c := range content {
		out = append(out, c...)
	}
	return out
}

// berUint encodes v in minimal two's-complement form under tag.
func berUint(tag byte, v uint32) []byte {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	i := 0
	for i < 3 && b[i] == 0 && b[i+1]&0x80 == 0 {
		i++
	}
	return tlv(tag, b[i:])
}

// parseTLV reads one element, returning its tag, content, and the
// remaining siblings.
func parseTLV(data []byte) (tag byte, content, rest []byte, err error) {
	if len(data) < 2 {
		return 0, nil, nil, fmt.Errorf("%w: truncated", ErrBER)
	}
	tag = data[0]
	n := int(data[1])
	off := 2
	switch {
	case n == 0x81:
		if len(data) < 3 {
			return 0, nil, nil, fmt.Errorf("%w: truncated", ErrBER)
		}
		n = int(data[2])
		off = 3
	case n == 0x82:
		if len(data) < 4 {
			return 0, nil, nil, fmt.Errorf("%w: truncated", ErrBER)
		}
		n = int(data[2])<<8 | int(data[3])
		off = 4
	case n > 0x82:
		return 0, nil, nil, fmt.Errorf("%w: length form 0x%02x", ErrBER, data[1])
	}
	if len(data) < off+n {
		return 0, nil, nil, fmt.Errorf("%w: truncated", ErrBER)
	}
	return tag, data[off : off+n], data[off+n:], nil
}

// findTag scans sibling elements for the first match.
func findTag(data []byte, tag byte) ([]byte, bool) {
	for len(data) > 0 {
		t, content, rest, err := parseTLV(data)
		if err != nil {
			return nil, false
		}
		if t == tag {
			return content, true
		}
		data = rest
	}
	return nil, false
}

// descend follows one constructed path, taking the first match at each
// level.
func descend(data []byte, tags ...byte) ([]byte, error) {
	for _, tag := range tags {
		content, ok := findTag(data, tag)
		if !ok {
			return nil, fmt.Errorf("%w: missing tag 0x%02x", ErrBER, tag)
		}
		data = content
	}
	return data, nil
}

func parseUint(content []byte) uint32 {
	var v uint32
	for _, b := range content {
		v = v<<8 | uint32(b)
	}
	return v
}

// Data choice encoders.

func dataFloat(v float64) []byte {
	var buf [5]byte
	buf[0] = 8 // exponent width of a single-precision value
	binary.BigEndian.PutUint32(buf[1:], math.Float32bits(float32(v)))
	return tlv(dataFloatTag, buf[:])
}

func dataUTCTime(unixSeconds int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(unixSeconds+ntpEpochOffset))
	// empty fraction, clock quality unspecified
	return tlv(dataUTCTimeTag, buf[:])
}

func dataQuality(bitmask uint16) []byte {
	// 13-bit string, unused low bits zeroed
	v := bitmask << 3
	return tlv(dataBitStrTag, []byte{3, byte(v >> 8), byte(v)})
}

func dataVisibleString(s string) []byte {
	return tlv(dataVisStrTag, []byte(s))
}

// objectName encodes a domain-specific name.
func objectName(ref ObjectRef) []byte {
	return tlv(0xA1,
		tlv(0x1A, []byte(ref.Domain)),
		tlv(0x1A, []byte(ref.Item)),
	)
}

// variableSpec encodes a one-entry listOfVariable access specification.
func variableSpec(ref ObjectRef) []byte {
	return tlv(0xA0, tlv(0x30, tlv(0xA0, objectName(ref))))
}

func writeRequest(invokeID uint32, ref ObjectRef, value []byte) []byte {
	return tlv(tagConfirmedRequest,
		berUint(0x02, invokeID),
		tlv(serviceWrite,
			variableSpec(ref),
			tlv(0xA0, value),
		),
	)
}

func readRequest(invokeID uint32, ref ObjectRef) []byte {
	return tlv(tagConfirmedRequest,
		berUint(0x02, invokeID),
		tlv(serviceRead,
			tlv(0xA1, variableSpec(ref)),
		),
	)
}

func parseConfirmedResponse(pdu []byte, invokeID uint32) ([]byte, error) {
	tag, content, _, err := parseTLV(pdu)
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagConfirmedResponse:
	case tagConfirmedError:
		return nil, fmt.Errorf("%w: confirmed error", ErrServiceFail)
	default:
		return nil, fmt.Errorf("%w: pdu tag 0x%02x", ErrServiceFail, tag)
	}
	idTag, idContent, rest, err := parseTLV(content)
	if err != nil {
		return nil, err
	}
	if idTag != 0x02 || parseUint(idContent) != invokeID {
		return nil, fmt.Errorf("%w: invoke id mismatch", ErrServiceFail)
	}
	return rest, nil
}

func parseWriteResponse(pdu []byte, invokeID uint32) error {
	rest, err := parseConfirmedResponse(pdu, invokeID)
	if err != nil {
		return err
	}
	result, ok := findTag(rest, serviceWrite)
	if !ok {
		return fmt.Errorf("%w: no write result", ErrServiceFail)
	}
	tag, content, _, err := parseTLV(result)
	if err != nil {
		return err
	}
	if tag == writeFailureTag {
		code := parseUint(content)
		return fmt.Errorf("%w: data access error %d", ErrServiceFail, code)
	}
	if tag != writeSuccessTag {
		return fmt.Errorf("%w: write result tag 0x%02x", ErrServiceFail, tag)
	}
	return nil
}

func parseReadString(pdu []byte, invokeID uint32) (string, error) {
	rest, err := parseConfirmedResponse(pdu, invokeID)
	if err != nil {
		return "", err
	}
	results, err := descend(rest, serviceRead, 0xA1)
	if err != nil {
		return "", err
	}
	tag, content, _, err := parseTLV(results)
	if err != nil {
		return "", err
	}
	if tag == writeFailureTag {
		return "", fmt.Errorf("%w: data access error %d", ErrServiceFail, parseUint(content))
	}
	if tag != dataVisStrTag {
		return "", fmt.Errorf("%w: access result tag 0x%02x", ErrServiceFail, tag)
	}
	return string(content), nil
}

// sessionData frames one MMS PDU for the data transfer phase: give
// tokens, data transfer, then the presentation PDV list on the MMS
// context.
func sessionData(mmsPDU []byte) []byte {
	pdv := tlv(0x30, tlv(0x02, []byte{0x03}), tlv(0xA0, mmsPDU))
	user := tlv(0x61, pdv)
	out := make([]byte, 0, 4+len(user))
	out = append(out, 0x01, 0x00, 0x01, 0x00)
	return append(out, user...)
}

// stripSessionData unwraps a data transfer TSDU down to the MMS PDU.
func stripSessionData(payload []byte) ([]byte, error) {
	if len(payload) < 4 || payload[0] != 0x01 || payload[2] != 0x01 {
		return nil, fmt.Errorf("%w: missing spdu prefix", ErrSession)
	}
	pdv, err := descend(payload[4:], 0x61, 0x30)
	if err != nil {
		return nil, err
	}
	mms, ok := findTag(pdv, 0xA0)
	if !ok {
		return nil, fmt.Errorf("%w: no presentation data value", ErrSession)
	}
	return mms, nil
}

// mmsInitiateRequest proposes the detail parameters every relay profile
// tested against accepts.
func mmsInitiateRequest() []byte {
	detail := tlv(0xA4,
		tlv(0x80, []byte{0x01}),             // version 1
		tlv(0x81, []byte{0x05, 0xF1, 0x00}), // parameter support
		tlv(0x82, []byte{
			0x03, 0xEE, 0x1C, 0x00, 0x00,
			0x04, 0x08, 0x00, 0x00, 0x79, 0xEF, 0x18,
		}), // services supported
	)
	return tlv(tagInitiateRequest,
		tlv(0x80, []byte{0x00, 0xFD, 0xE8}), // local detail 65000
		tlv(0x81, []byte{0x05}),             // max outstanding calling
		tlv(0x82, []byte{0x05}),             // max outstanding called
		tlv(0x83, []byte{0x0A}),             // nesting level
		detail,
	)
}

// acseAssociate wraps the initiate request in an AARQ under the MMS
// application context.
func acseAssociate(initiate []byte) []byte {
	return tlv(0x60,
		tlv(0xA1, tlv(0x06, []byte{0x28, 0xCA, 0x22, 0x02, 0x03})),
		tlv(0xBE, tlv(0x28,
			tlv(0x06, []byte{0x51, 0x01}),
			tlv(0xA0, initiate),
		)),
	)
}

// presentationConnect builds the CP-type with the ACSE and MMS contexts
// and the AARQ on the ACSE context.
func presentationConnect(aarq []byte) []byte {
	ctxList := tlv(0xA4,
		tlv(0x30,
			tlv(0x02, []byte{0x01}),
			tlv(0x06, []byte{0x52, 0x01, 0x00, 0x01}),
			tlv(0x30, tlv(0x06, []byte{0x51, 0x01})),
		),
		tlv(0x30,
			tlv(0x02, []byte{0x03}),
			tlv(0x06, []byte{0x28, 0xCA, 0x22, 0x02, 0x01}),
			tlv(0x30, tlv(0x06, []byte{0x51, 0x01})),
		),
	)
	user := tlv(0x61, tlv(0x30, tlv(0x02, []byte{0x01}), tlv(0xA0, aarq)))
	normal := tlv(0xA2,
		tlv(0x81, []byte{0x00, 0x00, 0x00, 0x01}),
		tlv(0x82, []byte{0x00, 0x00, 0x00, 0x01}),
		ctxList,
		user,
	)
	return tlv(0x31, tlv(0xA0, tlv(0x80, []byte{0x01})), normal)
}

// sessionConnect builds the CN SPDU: duplex, version 2, one-octet
// session selectors.
func sessionConnect(presentation []byte) []byte {
	params := []byte{
		0x05, 0x06, 0x13, 0x01, 0x00, 0x16, 0x01, 0x02,
		0x14, 0x02, 0x00, 0x02,
		0x33, 0x02, 0x00, 0x01,
		0x34, 0x02, 0x00, 0x01,
	}
	params = append(params, 0xC1, byte(len(presentation)))
	params = append(params, presentation...)
	out := []byte{0x0D, byte(len(params))}
	return append(out, params...)
}

func initiateEnvelope() []byte {
	return sessionConnect(presentationConnect(acseAssociate(mmsInitiateRequest())))
}

// parseInitiateResponse walks the accept TSDU down to the initiate
// response and checks the association result.
func parseInitiateResponse(payload []byte) error {
	if len(payload) < 2 || payload[0] != 0x0E {
		return fmt.Errorf("%w: no session accept", ErrInitiate)
	}
	pres, ok := findTag(payload[2:], 0xC1)
	if !ok {
		return fmt.Errorf("%w: no session user data", ErrInitiate)
	}
	pdv, err := descend(pres, 0x31, 0xA2, 0x61, 0x30)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInitiate, err)
	}
	aareRaw, ok := findTag(pdv, 0xA0)
	if !ok {
		aareRaw, ok = findTag(pdv, 0xA1)
	}
	if !ok {
		return fmt.Errorf("%w: no acse response", ErrInitiate)
	}
	tag, aare, _, err := parseTLV(aareRaw)
	if err != nil || tag != 0x61 {
		return fmt.Errorf("%w: no aare", ErrInitiate)
	}
	if result, ok := findTag(aare, 0xA2); ok {
		if v, ok := findTag(result, 0x02); ok && parseUint(v) != 0 {
			return fmt.Errorf("%w: result %d", ErrInitiate, parseUint(v))
		}
	}
	mms, err := descend(aare, 0xBE, 0x28, 0xA0)
	if err != nil {
		return fmt.Errorf("%w: no mms payload", ErrInitiate)
	}
	tag, _, _, err = parseTLV(mms)
	if err != nil || tag != tagInitiateResponse {
		return fmt.Errorf("%w: no initiate response", ErrInitiate)
	}
	return nil
}

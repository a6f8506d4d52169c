package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MBAPHeaderLen      = 7
	ProtocolIdentifier = 0
	MaxPDULen          = 253

	FuncReadHoldingRegisters   uint8 = 0x03
	FuncWriteSingleRegister    uint8 = 0x06
	FuncWriteMultipleRegisters uint8 = 0x10

	exceptionFlag uint8 = 0x80
)

// Exception codes returned to a peer in place of a normal response.
const (
	ExceptionIllegalFunction    uint8 = 0x01
	ExceptionIllegalDataAddress uint8 = 0x02
	ExceptionIllegalDataValue   uint8 = 0x03
	ExceptionServerFailure      uint8 = 0x04
)

// Quantity ceilings from the Modbus application protocol.
const (
	MaxReadQuantity  = 125
	MaxWriteQuantity = 123
)

var (
	ErrShortHeader = errors.New("modbus: short mbap header")
	ErrBadProtocol = errors.New("modbus: unexpected protocol identifier")
	ErrLengthField = errors.New("modbus: mbap length out of range")
	ErrPDUTooLarge = errors.New("modbus: pdu too large")
	ErrOddByteLen  = errors.New("modbus: register payload with odd byte count")
)

// Header is the MBAP transaction header.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16
	UnitID        uint8
}

// ADU is one application data unit: MBAP header, function code, data.
type ADU struct {
	Header Header
	Func   uint8
	Data   []byte
}

// ReadADU reads one complete request or response. A connection closed
// cleanly before the first byte surfaces as io.EOF.
func ReadADU(r io.Reader) (ADU, error) {
	var fixed [MBAPHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return ADU{}, ErrShortHeader
		}
		return ADU{}, err
	}

	h := Header{
		TransactionID: binary.BigEndian.Uint16(fixed[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(fixed[2:4]),
		Length:        binary.BigEndian.Uint16(fixed[4:6]),
		UnitID:        fixed[6],
	}
	if h.ProtocolID != ProtocolIdentifier {
		return ADU{}, fmt.Errorf("%w: %d", ErrBadProtocol, h.ProtocolID)
	}
	// Length counts the unit byte plus the PDU.
	if h.Length < 2 || int(h.Length)-1 > MaxPDULen {
		return ADU{}, fmt.Errorf("%w: %d", ErrLengthField, h.Length)
	}

	pdu := make([]byte, h.Length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ADU{}, ErrShortHeader
		}
		return ADU{}, err
	}
	return ADU{Header: h, Func: pdu[0], Data: pdu[1:]}, nil
}

// WriteADU writes one complete unit, recomputing the length field.
func WriteADU(w io.Writer, adu ADU) error {
	if len(adu.Data)+1 > MaxPDULen {
		return fmt.Errorf("%w: %d bytes", ErrPDUTooLarge, len(adu.Data)+1)
	}
	buf := make([]byte, MBAPHeaderLen+1+len(adu.Data))
	binary.BigEndian.PutUint16(buf[0:2], adu.Header.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], ProtocolIdentifier)
	binary.BigEndian.PutUint16(buf[4:6], uint16(2+len(adu.Data)))
	buf[6] = adu.Header.UnitID
	buf[7] = adu.Func
	copy(buf[8:], adu.Data)
	_, err := w.Write(buf)
	return err
}

// ExceptionReply builds the error response for req.
func ExceptionReply(req ADU, code uint8) ADU {
	return ADU{
		Header: req.Header,
		Func:   req.Func | exceptionFlag,
		Data:   []byte{code},
	}
}

// IsException reports whether a response carries an exception, and the
// code when it does.
func IsException(resp ADU) (uint8, bool) {
	if resp.Func&exceptionFlag == 0 {
		return 0, false
	}
	if len(resp.Data) == 0 {
		return 0, true
	}
	return resp.Data[0], true
}

// PackRegisters encodes values big endian, two bytes per register.
func PackRegisters(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// UnpackRegisters decodes a big-endian register payload.
func UnpackRegisters(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrOddByteLen, len(data))
	}
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out, nil
}

// BuildReadRequest builds a read-holding-registers request.
func BuildReadRequest(txn uint16, unit uint8, address, quantity uint16) ADU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], quantity)
	return ADU{
		Header: Header{TransactionID: txn, UnitID: unit},
		Func:   FuncReadHoldingRegisters,
		Data:   data,
	}
}

// BuildWriteSingleRequest builds a write-single-register request.
func BuildWriteSingleRequest(txn uint16, unit uint8, address, value uint16) ADU {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], value)
	return ADU{
		Header: Header{TransactionID: txn, UnitID: unit},
		Func:   FuncWriteSingleRegister,
		Data:   data,
	}
}

// BuildWriteMultipleRequest builds a write-multiple-registers request.
func BuildWriteMultipleRequest(txn uint16, unit uint8, address uint16, values []uint16) ADU {
	data := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(data[0:2], address)
	binary.BigEndian.PutUint16(data[2:4], uint16(len(values)))
	data[4] = byte(2 * len(values))
	copy(data[5:], PackRegisters(values))
	return ADU{
		Header: Header{TransactionID: txn, UnitID: unit},
		Func:   FuncWriteMultipleRegisters,
		Data:   data,
	}
}

package modbus

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

var (
	ErrNotConnected = errors.New("modbus: client not connected")
	ErrException    = errors.New("modbus: exception response")
	ErrResponse     = errors.New("modbus: malformed response")
)

// IsProtocolError reports whether err is an exception reply from the
// peer rather than a transport failure. Exception replies arrive over
// a healthy connection, so callers may keep it open.
func IsProtocolError(err error) bool {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return true
	}
	return errors.Is(err, ErrException)
}

// ClientConfig configures an outbound register client.
type ClientConfig struct {
	Address string
	UnitID  uint8
	Timeout time.Duration
}

func (c ClientConfig) WithDefaults() ClientConfig {
	if c.UnitID == 0 {
		c.UnitID = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Client is the plaintext outbound connection used by the forwarder.
// The wrapped handler serializes one request at a time; callers share
// the client freely.
type Client struct {
	cfg     ClientConfig
	handler *modbus.TCPClientHandler
	client  modbus.Client

	opMu      sync.Mutex
	connected bool
}

func NewClient(cfg ClientConfig) *Client {
	cfg = cfg.WithDefaults()
	handler := modbus.NewTCPClientHandler(cfg.Address)
	handler.Timeout = cfg.Timeout
	handler.SlaveId = cfg.UnitID
	return &Client{
		cfg:     cfg,
		handler: handler,
		client:  modbus.NewClient(handler),
	}
}

// Connect dials the peer, bounded by the configured timeout. Connecting
// an already connected client is a no-op.
func (c *Client) Connect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.connected {
		return nil
	}
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("modbus: connect %s: %w", c.cfg.Address, err)
	}
	c.connected = true
	return nil
}

func (c *Client) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.connected {
		return
	}
	_ = c.handler.Close()
	c.connected = false
}

func (c *Client) Connected() bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.connected
}

// WriteRegisters writes values at address in one multiple-register
// request.
func (c *Client) WriteRegisters(address uint16, values []uint16) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if _, err := c.client.WriteMultipleRegisters(address, uint16(len(values)), PackRegisters(values)); err != nil {
		return fmt.Errorf("modbus: write %d registers at %d: %w", len(values), address, err)
	}
	return nil
}

// ReadRegisters reads count holding registers starting at address.
func (c *Client) ReadRegisters(address, count uint16) ([]uint16, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	raw, err := c.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, fmt.Errorf("modbus: read %d registers at %d: %w", count, address, err)
	}
	return UnpackRegisters(raw)
}

// Conn is a minimal synchronous client over an established connection,
// used where the transport is not plain TCP.
type Conn struct {
	cfg  ClientConfig
	conn net.Conn

	opMu sync.Mutex
	txn  uint16
}

// DialTLS connects to a TLS listener and wraps the session.
func DialTLS(cfg ClientConfig, tlsCfg *tls.Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", cfg.Address, tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("modbus: dial tls %s: %w", cfg.Address, err)
	}
	return &Conn{cfg: cfg, conn: conn}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// WriteRegisters writes values at address in one multiple-register
// request.
func (c *Conn) WriteRegisters(address uint16, values []uint16) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.txn++
	req := BuildWriteMultipleRequest(c.txn, c.cfg.UnitID, address, values)
	resp, err := c.roundTrip(req)
	if err != nil {
		return err
	}
	if len(resp.Data) != 4 {
		return fmt.Errorf("%w: write echo %d bytes", ErrResponse, len(resp.Data))
	}
	return nil
}

// ReadRegisters reads count holding registers starting at address.
func (c *Conn) ReadRegisters(address, count uint16) ([]uint16, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.txn++
	req := BuildReadRequest(c.txn, c.cfg.UnitID, address, count)
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 1 || int(resp.Data[0]) != len(resp.Data)-1 {
		return nil, fmt.Errorf("%w: read byte count", ErrResponse)
	}
	return UnpackRegisters(resp.Data[1:])
}

func (c *Conn) roundTrip(req ADU) (ADU, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	_ = c.conn.SetDeadline(deadline)
	if err := WriteADU(c.conn, req); err != nil {
		return ADU{}, err
	}
	resp, err := ReadADU(c.conn)
	if err != nil {
		return ADU{}, err
	}
	if resp.Header.TransactionID != req.Header.TransactionID {
		return ADU{}, fmt.Errorf("%w: transaction %d != %d", ErrResponse, resp.Header.TransactionID, req.Header.TransactionID)
	}
	if code, ok := IsException(resp); ok {
		return ADU{}, fmt.Errorf("%w: function 0x%02x code %d", ErrException, req.Func, code)
	}
	if resp.Func != req.Func {
		return ADU{}, fmt.Errorf("%w: function 0x%02x != 0x%02x", ErrResponse, resp.Func, req.Func)
	}
	return resp, nil
}

// ClientTLSConfig builds the client-side transport config. With no CA
// file the server certificate is not verified, which commissioning
// setups with self-signed certificates rely on.
func ClientTLSConfig(caFile, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		cfg.InsecureSkipVerify = true
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("modbus: parse tls ca bundle: %s", caFile)
	}
	cfg.RootCAs = pool
	cfg.ServerName = serverName
	return cfg, nil
}

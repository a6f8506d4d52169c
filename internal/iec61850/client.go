package iec61850

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MMSClient speaks the confirmed-service subset a measurement update
// needs: associate, write, read. One request is outstanding at a time.
type MMSClient struct {
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	invokeID  uint32
}

func NewMMSClient(cfg Config, logger zerolog.Logger) *MMSClient {
	return &MMSClient{
		cfg:    cfg.WithDefaults(),
		logger: logger.With().Str("component", "mms").Logger(),
	}
}

// Connect dials the relay and runs the COTP handshake and the MMS
// initiate exchange. Calling Connect on a live association is a no-op.
func (c *MMSClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}
	conn, err := net.DialTimeout("tcp", c.cfg.Address, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("iec61850: dial %s: %w", c.cfg.Address, err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	if err := c.associate(conn); err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})
	c.conn = conn
	c.connected = true
	c.logger.Info().Str("relay", c.cfg.Address).Msg("association established")
	return nil
}

func (c *MMSClient) associate(conn net.Conn) error {
	if err := cotpHandshake(conn); err != nil {
		return err
	}
	if err := cotpSend(conn, initiateEnvelope()); err != nil {
		return err
	}
	resp, err := cotpReceive(conn)
	if err != nil {
		return err
	}
	return parseInitiateResponse(resp)
}

func (c *MMSClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

func (c *MMSClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *MMSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *MMSClient) WriteFloat(path string, value float64) error {
	return c.write(path, dataFloat(value))
}

func (c *MMSClient) WriteTimestamp(path string, unixSeconds int64) error {
	return c.write(path, dataUTCTime(unixSeconds))
}

func (c *MMSClient) WriteQuality(path string, bitmask uint16) error {
	return c.write(path, dataQuality(bitmask))
}

func (c *MMSClient) write(path string, value []byte) error {
	ref, err := ParseRef(path, c.cfg.LogicalDevice)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.invokeID++
	pdu, err := c.roundTrip(writeRequest(c.invokeID, ref, value))
	if err != nil {
		// Transport failure, the association is gone.
		c.dropLocked()
		return err
	}
	if err := parseWriteResponse(pdu, c.invokeID); err != nil {
		return fmt.Errorf("%s: %w", ref, err)
	}
	return nil
}

// ReadString reads one visible-string attribute, such as a nameplate
// field.
func (c *MMSClient) ReadString(path string) (string, error) {
	ref, err := ParseRef(path, c.cfg.LogicalDevice)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", ErrNotConnected
	}
	c.invokeID++
	pdu, err := c.roundTrip(readRequest(c.invokeID, ref))
	if err != nil {
		c.dropLocked()
		return "", err
	}
	s, err := parseReadString(pdu, c.invokeID)
	if err != nil {
		return "", fmt.Errorf("%s: %w", ref, err)
	}
	return s, nil
}

// HealthCheck probes the association by reading the configured
// nameplate object.
func (c *MMSClient) HealthCheck() bool {
	if !c.Connected() {
		return false
	}
	_, err := c.ReadString(c.cfg.HealthObject)
	return err == nil
}

func (c *MMSClient) roundTrip(pdu []byte) ([]byte, error) {
	_ = c.conn.SetDeadline(time.Now().Add(c.cfg.RequestTimeout))
	if err := cotpSend(c.conn, sessionData(pdu)); err != nil {
		return nil, err
	}
	payload, err := cotpReceive(c.conn)
	if err != nil {
		return nil, err
	}
	return stripSessionData(payload)
}

package modbus

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// RegisterHandler is the get/set contract a server applies inbound
// requests against.
type RegisterHandler interface {
	SetValues(address int, values []uint16) error
	GetValues(address, count int) ([]uint16, error)
}

// ServerTLS holds the listener transport security material.
type ServerTLS struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// ServerConfig configures one inbound listener.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          ServerTLS
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":502",
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c ServerConfig) WithDefaults() ServerConfig {
	def := DefaultServerConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// Server accepts register protocol sessions and applies each request
// against the shared handler. Unit addressing is echoed, not enforced;
// every tier runs a single logical device.
type Server struct {
	cfg     ServerConfig
	handler RegisterHandler
	logger  zerolog.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
}

func NewServer(cfg ServerConfig, handler RegisterHandler, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg.WithDefaults(),
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen opens the TCP or TLS listener described by the config.
func (s *Server) Listen() (net.Listener, error) {
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", s.cfg.ListenAddr)
	}
	tlsCfg, err := serverTLSConfig(s.cfg.TLS)
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.ListenAddr, tlsCfg)
}

// Serve runs the accept loop until ctx is cancelled, then closes the
// listener and every tracked connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)
	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	s.logger.Info().Str("remote", remote).Int64("active_clients", active).Msg("client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		s.logger.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		req, err := ReadADU(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug().Str("remote", remote).Err(err).Msg("read request")
			}
			return
		}
		resp := s.respond(req)
		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := WriteADU(conn, resp); err != nil {
			s.logger.Debug().Str("remote", remote).Err(err).Msg("write response")
			return
		}
	}
}

func (s *Server) respond(req ADU) ADU {
	switch req.Func {
	case FuncReadHoldingRegisters:
		return s.respondRead(req)
	case FuncWriteSingleRegister:
		return s.respondWriteSingle(req)
	case FuncWriteMultipleRegisters:
		return s.respondWriteMultiple(req)
	default:
		return ExceptionReply(req, ExceptionIllegalFunction)
	}
}

func (s *Server) respondRead(req ADU) ADU {
	if len(req.Data) != 4 {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > MaxReadQuantity {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	values, err := s.handler.GetValues(int(address), int(quantity))
	if err != nil {
		// The only handler failure is an out-of-range access.
		return ExceptionReply(req, ExceptionIllegalDataAddress)
	}
	data := make([]byte, 1+2*len(values))
	data[0] = byte(2 * len(values))
	copy(data[1:], PackRegisters(values))
	return ADU{Header: req.Header, Func: req.Func, Data: data}
}

func (s *Server) respondWriteSingle(req ADU) ADU {
	if len(req.Data) != 4 {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if err := s.handler.SetValues(int(address), []uint16{value}); err != nil {
		return ExceptionReply(req, ExceptionIllegalDataAddress)
	}
	// The response echoes address and value.
	return ADU{Header: req.Header, Func: req.Func, Data: req.Data}
}

func (s *Server) respondWriteMultiple(req ADU) ADU {
	if len(req.Data) < 5 {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])
	if quantity < 1 || quantity > MaxWriteQuantity ||
		byteCount != 2*int(quantity) || len(req.Data) != 5+byteCount {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	values, err := UnpackRegisters(req.Data[5:])
	if err != nil {
		return ExceptionReply(req, ExceptionIllegalDataValue)
	}
	if err := s.handler.SetValues(int(address), values); err != nil {
		return ExceptionReply(req, ExceptionIllegalDataAddress)
	}
	return ADU{Header: req.Header, Func: req.Func, Data: req.Data[0:4]}
}

func serverTLSConfig(cfg ServerTLS) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
	}, nil
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

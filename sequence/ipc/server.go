package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mku11/Salmon-AES-CTR-sub010/sequence"
)

// ServerConfig controls Listen.
type ServerConfig struct {
	Logger logrus.FieldLogger
}

// Server answers sequencer requests on a unix socket.
type Server struct {
	svc      sequence.Service
	listener net.Listener
	path     string
	log      logrus.FieldLogger

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// cleanupOrphanedSocket removes a stale socket file at path. A socket that
// still accepts connections is left alone.
func cleanupOrphanedSocket(path string, log logrus.FieldLogger) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if fi.Mode().Type() != fs.ModeSocket {
		return
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		log.WithField("socket", path).Info("removing orphaned socket file")
		if err := os.Remove(path); err != nil {
			log.WithError(err).Warn("removing socket file failed")
		}
	}
}

// Listen binds path and returns a server ready to Serve.
func Listen(path string, svc sequence.Service, cfg ServerConfig) (*Server, error) {
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if filepath.Clean(path) == DefaultSocketPath && os.Geteuid() != ReservedUID {
		return nil, fmt.Errorf("%w: %s", ErrReservedPath, path)
	}
	cleanupOrphanedSocket(path, log)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	// clients run as other users
	if err := os.Chmod(path, 0666); err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{
		svc:      svc,
		listener: ln,
		path:     path,
		log:      log.WithField("socket", path),
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.path
}

// Serve accepts connections until Close is called. It blocks.
func (s *Server) Serve() error {
	s.log.Info("sequence server listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConnection(conn)
	}
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// handleConnection processes one request at a time, in arrival order.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()
	log := s.log.WithField("conn", fmt.Sprintf("%p", conn))
	log.Debug("connection accepted")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), MaxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		var resp *Response
		if err := json.Unmarshal(line, &req); err != nil {
			log.WithError(err).Warn("malformed request")
			resp = &Response{Status: StatusError, Error: "JSON unmarshal error: " + err.Error()}
		} else {
			resp = s.handleRequest(&req)
		}
		if err := writeMessage(conn, resp); err != nil {
			log.WithError(err).Warn("write failed")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).Warn("read failed")
	}
}

func (s *Server) handleRequest(req *Request) *Response {
	ctx := context.Background()
	log := s.log.WithFields(logrus.Fields{"drive": req.DriveID, "type": req.Type})
	var err error
	switch req.Type {
	case CreateSequence:
		err = s.svc.CreateSequence(ctx, req.DriveID, req.AuthID)
	case InitSequence:
		err = s.svc.InitSequence(ctx, req.DriveID, req.AuthID, req.NextNonce, req.MaxNonce)
	case SetMaxNonce:
		err = s.svc.SetMaxNonce(ctx, req.DriveID, req.AuthID, req.MaxNonce)
	case RevokeSequence:
		err = s.svc.RevokeSequence(ctx, req.DriveID)
	case NextNonce:
		nonce, err := s.svc.NextNonce(ctx, req.DriveID)
		if err != nil {
			log.WithError(err).Debug("request failed")
			return errorResponse(req, err)
		}
		return &Response{ID: req.ID, Type: req.Type, DriveID: req.DriveID, AuthID: req.AuthID, Status: StatusOk, NextNonce: nonce}
	case GetSequence:
	default:
		return errorResponse(req, fmt.Errorf("unknown request type %q", req.Type))
	}
	if err != nil {
		log.WithError(err).Debug("request failed")
		return errorResponse(req, err)
	}
	seq, err := s.svc.GetSequence(ctx, req.DriveID)
	if err != nil {
		return errorResponse(req, err)
	}
	return sequenceResponse(req, seq)
}

func writeMessage(w io.Writer, v any) error {
	js, err := json.Marshal(v)
	if err != nil {
		return err
	}
	js = append(js, '\n')
	_, err = w.Write(js)
	return err
}

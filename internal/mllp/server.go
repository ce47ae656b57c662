package mllp

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pekka2000/radqa/internal/config"
	"github.com/pekka2000/radqa/internal/hl7"
	"github.com/pekka2000/radqa/internal/metric"
)

// FrameHandler обрабатывает один полный кадр и возвращает код подтверждения
type FrameHandler func(ctx context.Context, frame []byte) hl7.AckCode

// Server принимает MLLP-соединения и обрабатывает кадры. Каждое
// соединение обслуживается собственной горутиной; ошибка обработки
// одного кадра не закрывает соединение — его завершает только ошибка
// чтения или закрытие со стороны клиента
type Server struct {
	addr        string
	maxFrame    int
	idleTimeout time.Duration
	handler     FrameHandler
	metrics     *metric.Metrics

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer создаёт MLLP-сервер с настройками из конфигурации
func NewServer(cfg *config.Config, handler FrameHandler, m *metric.Metrics) *Server {
	return &Server{
		addr:        ":" + cfg.MLLPPort,
		maxFrame:    cfg.MLLPMaxFrameBytes,
		idleTimeout: time.Duration(cfg.MLLPIdleTimeoutMS) * time.Millisecond,
		handler:     handler,
		metrics:     m,
	}
}

// ListenAndServe открывает слушающий сокет и блокируется в accept-цикле
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve запускает accept-цикл на готовом слушателе. Работа над
// соединением никогда не блокирует приём новых соединений
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	log.Printf("[INFO] MLLP server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			log.Printf("[ERROR] Accept failed: %v", err)
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Stop закрывает слушатель и дожидается завершения активных соединений
func (s *Server) Stop() {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr возвращает фактический адрес слушателя (для тестов с портом :0)
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr()
	log.Printf("[INFO] Accepted MLLP connection from %s", remote)

	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}

	framer := NewFramer(conn, s.maxFrame)

	for {
		if s.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		frame, err := framer.Next()
		if errors.Is(err, ErrFrameTooLarge) {
			log.Printf("[WARN] Dropped oversized frame from %s", remote)
			if s.metrics != nil {
				s.metrics.FramesDropped.Inc()
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[WARN] Read error on connection from %s: %v", remote, err)
			}
			log.Printf("[INFO] Closing MLLP connection from %s", remote)
			return
		}

		start := time.Now()
		code := s.processFrame(frame)

		if s.metrics != nil {
			s.metrics.MessagesTotal.WithLabelValues(string(code)).Inc()
			s.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
		}

		ack := hl7.BuildAck(string(frame), code, time.Now())
		if err := WriteFrame(conn, []byte(ack)); err != nil {
			log.Printf("[ERROR] Failed to write acknowledgment to %s: %v", remote, err)
			return
		}
	}
}

// processFrame вызывает обработчик, перехватывая панику: подтверждение
// отправляется в любом случае, с кодом AR при внутренней ошибке
func (s *Server) processFrame(frame []byte) (code hl7.AckCode) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Panic while processing frame: %v", r)
			code = hl7.AckReject
		}
	}()

	return s.handler(context.Background(), frame)
}

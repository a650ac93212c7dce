package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/Subtalime/vintel-sub001/internal/config"
)

const SourceTCP = "tcp_stream"

// roomDirective switches the room for the rest of a connection, so a
// forwarder can relay several chat logs over one socket.
const roomDirective = "#room "

func StartTCPStream(ctx context.Context, cfg config.TCPConfig, h *Handler, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", cfg.Addr)
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go serveTCPStream(ctx, ln, cfg.DefaultRoom, h, logger)
}

func serveTCPStream(ctx context.Context, ln net.Listener, defaultRoom string, h *Handler, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("tcp stream accept error", "err", err)
			}
			continue
		}
		go handleTCPStreamConn(ctx, conn, defaultRoom, h, logger)
	}
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, room string, h *Handler, logger *slog.Logger) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, roomDirective); ok {
			if name = strings.TrimSpace(name); name != "" {
				room = name
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		h.HandleLine(ctx, SourceTCP, room, line)
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("tcp stream scanner error", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

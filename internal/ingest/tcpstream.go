package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
)

// StartSignalTCP accepts line-oriented text frames from bus adapters that stream over TCP.
func StartSignalTCP(ctx context.Context, addr string, in *Ingress, logger *slog.Logger) (net.Addr, error) {
	if addr == "" {
		if logger != nil {
			logger.Info("signal tcp ingest disabled")
		}
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("signal tcp ingest enabled", "addr", ln.Addr().String())
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if logger != nil {
					logger.Warn("signal tcp accept error", "err", err)
				}
				continue
			}
			go handleSignalConn(ctx, conn, in, logger)
		}
	}()
	return ln.Addr(), nil
}

func handleSignalConn(ctx context.Context, conn net.Conn, in *Ingress, logger *slog.Logger) {
	defer conn.Close()
	// unblocks the scanner on shutdown; released when the peer disconnects first
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		_ = in.HandleFrameLine(ctx, scanner.Text(), "tcp")
		if ctx.Err() != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && logger != nil {
		logger.Warn("signal tcp scanner error", "remote", conn.RemoteAddr().String(), "err", err)
	}
}

package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

// StartSessionUDP receives session-start datagrams. The remote address is the sender identity
// when the payload carries none.
func StartSessionUDP(ctx context.Context, addr string, in *Ingress, logger *slog.Logger) (net.Addr, error) {
	return startUDP(ctx, "session udp", addr, logger, func(payload []byte, from string) {
		_ = in.HandleSession(ctx, payload, from, "udp")
	})
}

// StartSignalUDP receives bus frames, one binary frame per datagram.
func StartSignalUDP(ctx context.Context, addr string, in *Ingress, logger *slog.Logger) (net.Addr, error) {
	return startUDP(ctx, "signal udp", addr, logger, func(payload []byte, _ string) {
		_ = in.HandleFrame(ctx, payload, "udp")
	})
}

func startUDP(ctx context.Context, name, addr string, logger *slog.Logger, handle func(payload []byte, from string)) (net.Addr, error) {
	if addr == "" {
		if logger != nil {
			logger.Info(name + " ingest disabled")
		}
		return nil, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info(name+" ingest enabled", "addr", conn.LocalAddr().String())
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer conn.Close()
		buf := make([]byte, 8192)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				if logger != nil {
					logger.Warn(name+" read error", "err", err)
				}
				continue
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			handle(payload, from.String())
		}
	}()
	return conn.LocalAddr(), nil
}

package bus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"
)

// ListenAndServe serves the bus on the node's bus port until ctx is done.
func (b *Bus) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", ":"+b.server.BusPort)
	if err != nil {
		return fmt.Errorf("couldn't start bus at port %s: %w", b.server.BusPort, err)
	}
	return b.Serve(ctx, lis)
}

func (b *Bus) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()
	b.log.Info("cluster bus listening", zap.String("addr", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			b.log.Warn("couldn't accept connection", zap.Error(err))
			continue
		}
		go b.handleConnection(ctx, conn)
	}
}

func (b *Bus) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				b.log.Debug("reading err", zap.Error(err))
			}
			return
		}
		b.HandleClusterCommand(ctx, strings.TrimSpace(line), reader, conn)
	}
}

func (b *Bus) HandleClusterCommand(ctx context.Context, cmd string, reader *bufio.Reader, conn net.Conn) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		conn.Write([]byte("ERR empty command\n"))
		return
	}

	switch strings.ToUpper(parts[0]) {
	case "CUSTOM":
		b.HandleCustom(ctx, conn, parts)
	case "DELIVER":
		b.HandleDeliver(conn, parts)
	case "JOIN":
		b.HandleJoin(ctx, conn, parts)
	case "SNAPSHOT":
		b.HandleClusterSnapshot(reader, conn)
	case "LEAVE":
		b.HandleLeave(ctx, conn, parts)
	case "SHOW":
		b.HandleShow(conn)
	default:
		conn.Write([]byte(fmt.Sprintf("ERR unknown command %s\n", parts[0])))
	}
}

// CUSTOM <msg>
func (b *Bus) HandleCustom(ctx context.Context, conn net.Conn, parts []string) {
	msg, err := Decode(parts[1:])
	if err != nil {
		conn.Write([]byte(fmt.Sprintf("ERR %s\n", err)))
		return
	}
	if !b.IsHead() {
		conn.Write([]byte(fmt.Sprintf("ERR NOT_HEAD %s\n", b.Head())))
		return
	}
	if err := b.seq.Submit(ctx, msg); err != nil {
		conn.Write([]byte(fmt.Sprintf("ERR %s\n", err)))
		return
	}
	conn.Write([]byte("OK\n"))
}

// DELIVER <msg>
func (b *Bus) HandleDeliver(conn net.Conn, parts []string) {
	msg, err := Decode(parts[1:])
	if err != nil {
		conn.Write([]byte(fmt.Sprintf("ERR %s\n", err)))
		return
	}
	out := b.deliver(msg)
	if out == nil || !msg.Mutable() {
		out = msg
	}
	line, err := Encode(out)
	if err != nil {
		conn.Write([]byte(fmt.Sprintf("ERR %s\n", err)))
		return
	}
	conn.Write([]byte("DELIVERED " + line + "\n"))
}

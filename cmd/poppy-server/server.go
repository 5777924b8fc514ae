package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	writeTimeout              = 5 * time.Second
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "-ERR max number of clients reached\r\n"
)

// serve listens on the configured port and blocks until a shutdown signal
// has been handled.
func (app *application) serve() error {
	//
	// DESIGN
	// ------
	//
	// connLimiter is a buffered channel used as a counting semaphore. The
	// accept loop does a non-blocking send: a full channel means the client
	// is turned away at once instead of queueing behind the others.
	//
	// A signal goroutine closes the listener, which ends the accept loop with
	// net.ErrClosed, then waits on the WaitGroup of live connections with
	// shutdownTimeout as the upper bound. Its verdict comes back over
	// shutdownError.
	//
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.port))
	if err != nil {
		return err
	}
	app.listener = ln
	addr := ln.Addr().String()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	shutdownError := make(chan error, 1)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		app.logger.Info("caught signal", "signal", s.String(), "address", addr)

		ctx, cancel := context.WithTimeout(context.Background(), app.config.shutdownTimeout)
		defer cancel()

		if err := ln.Close(); err != nil {
			shutdownError <- err
			return
		}

		done := make(chan struct{})
		go func() {
			app.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			shutdownError <- nil
		case <-ctx.Done():
			shutdownError <- ctx.Err()
		}
	}()

	app.logger.Info("server starting", "address", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			app.logger.Error("failed to accept connection", "error", err, "address", addr)
			continue
		}

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.logger.Info("rejecting connection, limit reached", "remote_addr", conn.RemoteAddr().String())

			// A client that never reads must not stall the accept loop.
			_ = conn.SetWriteDeadline(time.Now().Add(rejectionTimeout))
			_ = app.writeResponse(conn, []byte(errMaxConnectionsResponse))
			_ = conn.Close()
		}
	}

	err = <-shutdownError
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		app.logger.Error("server stopped with error", "error", err, "address", addr)
		return err
	}

	app.logger.Info("server stopped gracefully", "address", addr)
	return nil
}

// handleConnection runs the request loop of one client.
func (app *application) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// Replies accumulate in a 4KB bufio.Writer. After each command the
	// writer is flushed only if the parser has nothing buffered: a client
	// that pipelines N commands in one segment gets its N replies in one
	// write (Smart Flush).
	//
	// The deferred flush runs before conn.Close, so replies to commands that
	// preceded a protocol error still reach the client.
	//
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.TotalConnections.Add(1)

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Info("new connection", "remote_addr", remoteAddr)

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.idleTimeout)); err != nil {
				app.logger.Error("failed to set read deadline", "error", err, "remote_addr", remoteAddr)
				return
			}
		}

		parts, err := parser.Parse()
		if err != nil {
			if err == io.EOF {
				app.logger.Info("client disconnected", "remote_addr", remoteAddr)
				return
			}
			app.logger.Error("parser error", "error", err, "remote_addr", remoteAddr)
			if isProtocolError(err) {
				_ = app.writeErrorResponse(writer, err.Error())
			}
			return
		}

		app.router.Dispatch(app, writer, parts)

		if parser.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				app.logger.Error("failed to flush response", "error", err, "remote_addr", remoteAddr)
				return
			}
		}
	}
}

func isProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidSyntax) ||
		errors.Is(err, ErrLineTooLong) ||
		errors.Is(err, ErrBulkTooLarge) ||
		errors.Is(err, ErrArrayTooLong)
}

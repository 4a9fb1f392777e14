// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testredis starts redis servers for tests.
package testredis

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	fallbackAddr = "localhost:6381"
	fallbackPort = 6381
)

// Server is a running redis server.
type Server struct {
	Addr    string
	cleanup func()
}

// URL returns the redis:// url of the server.
func (server *Server) URL() string {
	return "redis://" + server.Addr
}

// Close stops the server.
func (server *Server) Close() {
	if server.cleanup != nil {
		server.cleanup()
		server.cleanup = nil
	}
}

func freeport() (addr string, port int) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fallbackAddr, fallbackPort
	}

	addr = listener.Addr().String()
	port = listener.Addr().(*net.TCPAddr).Port

	_ = listener.Close()
	return addr, port
}

// Start starts a redis-server when available, otherwise falls back to miniredis.
func Start(ctx context.Context) (*Server, error) {
	server, err := Process(ctx)
	if err != nil {
		return Mini()
	}
	return server, nil
}

// Process starts a redis-server test process.
func Process(ctx context.Context) (*Server, error) {
	if _, err := exec.LookPath("redis-server"); err != nil {
		return nil, err
	}

	tmpdir, err := os.MkdirTemp("", "columnmanager-redis")
	if err != nil {
		return nil, err
	}

	// find a suitable port for listening
	addr, port := freeport()

	// write a configuration file, because redis doesn't support flags
	confpath := filepath.Join(tmpdir, "test.conf")
	arguments := []string{
		"daemonize no",
		"bind 127.0.0.1",
		"port " + strconv.Itoa(port),
		"timeout 0",
		"databases 2",
		"dbfilename dump.rdb",
		"dir " + tmpdir,
	}
	conf := strings.Join(arguments, "\n") + "\n"
	if err := os.WriteFile(confpath, []byte(conf), 0644); err != nil {
		return nil, err
	}

	cmd := exec.Command("redis-server", confpath)
	read, write, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = write
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	_ = write.Close()

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = read.Close()
		_ = os.RemoveAll(tmpdir)
	}

	// wait for redis to become ready
	waitForReady := make(chan struct{})
	go func() {
		// wait for the message that looks like
		//   "Ready to accept connections"
		scanner := bufio.NewScanner(read)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.Contains(strings.ToLower(line), "ready to accept") {
				break
			}
		}
		close(waitForReady)
		_, _ = io.Copy(io.Discard, read)
	}()

	select {
	case <-waitForReady:
	case <-time.After(3 * time.Second):
		cleanup()
		return nil, errors.New("redis timeout")
	}

	if !pingServer(ctx, addr) {
		cleanup()
		return nil, errors.New("unable to ping")
	}

	return &Server{Addr: addr, cleanup: cleanup}, nil
}

func pingServer(ctx context.Context, addr string) bool {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	defer func() { _ = client.Close() }()
	return client.Ping(ctx).Err() == nil
}

// Mini starts a miniredis server.
func Mini() (*Server, error) {
	server, err := miniredis.Run()
	if err != nil {
		return nil, err
	}
	return &Server{Addr: server.Addr(), cleanup: server.Close}, nil
}

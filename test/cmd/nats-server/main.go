// Package main runs a standalone NATS server for lifeline broker-failure tests.
//
// The server runs in its own process so a test can kill it outright and start
// it again on the same port and JetStream directory. It prints the connection
// URL to stdout for the parent test process:
//
//	NATS_URL=nats://127.0.0.1:41234
//	NATS_READY=true
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

func main() {
	port := flag.Int("port", 0, "port to listen on (0 picks a free port)")
	storeDir := flag.String("store", "", "JetStream directory kept across restarts (empty uses a temporary one)")
	flag.Parse()

	if *port == 0 {
		*port = freePort()
	}

	dir := *storeDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), fmt.Sprintf("lifeline-nats-%d", os.Getpid()))
		defer func() { _ = os.RemoveAll(dir) }()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatal("Failed to create store directory:", err)
	}

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      *port,
		JetStream: true,
		StoreDir:  dir,
		NoLog:     true,
		NoSigs:    true,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to create NATS server: %v\n", err)
		os.Exit(1) //nolint:gocritic // the temporary directory is left for the OS
	}

	go srv.Start()

	if !srv.ReadyForConnections(10 * time.Second) {
		_, _ = fmt.Fprintln(os.Stderr, "NATS server not ready within timeout")
		os.Exit(1)
	}

	fmt.Printf("NATS_URL=nats://%s:%d\n", opts.Host, opts.Port)
	fmt.Println("NATS_READY=true")
	_, _ = fmt.Fprintf(os.Stderr, "NATS server started on port %d (PID: %d)\n", opts.Port, os.Getpid())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	srv.Shutdown()
	srv.WaitForShutdown()
}

// freePort asks the kernel for an unused port. The listener is closed before the
// server binds, which leaves a small window acceptable for tests.
func freePort() int {
	//nolint:noctx // test utility
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal("Failed to get available port:", err)
	}
	defer func() { _ = listener.Close() }()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		log.Fatal("Failed to get TCP address from listener")
	}

	return tcpAddr.Port
}

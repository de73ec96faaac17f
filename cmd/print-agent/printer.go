// ABOUTME: Printer backends for the agent: raw TCP (port 9100) and spool directory
// ABOUTME: A job is a blob of printer bytes; delivery is fire-and-forget per job

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Printer delivers one decoded job to its destination.
type Printer interface {
	Print(ctx context.Context, data []byte) error
	// Describe returns a short human-readable target description for logs.
	Describe() string
}

func newPrinter(cfg PrinterConfig) (Printer, error) {
	switch cfg.Mode {
	case "tcp":
		return &tcpPrinter{addr: cfg.Addr, timeout: cfg.WriteTimeout}, nil
	case "spool":
		if err := os.MkdirAll(cfg.SpoolDir, 0755); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
		return &spoolPrinter{dir: cfg.SpoolDir}, nil
	default:
		return nil, fmt.Errorf("unknown printer mode %q", cfg.Mode)
	}
}

// tcpPrinter writes raw bytes to a network printer, the JetDirect way:
// one connection per job, write everything, close.
type tcpPrinter struct {
	addr    string
	timeout time.Duration
}

func (p *tcpPrinter) Print(ctx context.Context, data []byte) error {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("connecting to printer: %w", err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("writing to printer: %w", err)
	}
	return nil
}

func (p *tcpPrinter) Describe() string {
	return "tcp " + p.addr
}

// spoolPrinter drops each job into a directory for an external spooler
// (or a human) to pick up. Useful for testing without hardware.
type spoolPrinter struct {
	dir string
}

func (p *spoolPrinter) Print(_ context.Context, data []byte) error {
	name := fmt.Sprintf("job-%d.prn", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(p.dir, name), data, 0644); err != nil {
		return fmt.Errorf("spooling job: %w", err)
	}
	return nil
}

func (p *spoolPrinter) Describe() string {
	return "spool " + p.dir
}

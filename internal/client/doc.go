// Package client is a Go client for the print-bridge control API.
//
// # Overview
//
// The bridge exposes a small JSON API on its HTTP listener: job submission
// via POST /api/print plus read-only listings of connected agents, the job
// journal, and agent lifecycle events. This package wraps that surface for
// the CLI subcommands and for Waitron backend services that submit print
// jobs programmatically.
//
// # Usage
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//
//	result, err := c.PrintBytes(ctx, "tenant-7", receipt, 30*time.Second)
//	if err != nil {
//		var apiErr *client.APIError
//		if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
//			// no agent connected for the tenant
//		}
//		return err
//	}
//	if !result.Success {
//		// the agent answered but the printer refused the job
//	}
//
// Print blocks until the agent answers or the bridge's dispatch deadline
// passes, so callers should bound calls with a context deadline a little
// above the job timeout they request.
package client

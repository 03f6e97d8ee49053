// ABOUTME: Optional tailnet listener so the API is reachable only over Tailscale
// ABOUTME: Plain HTTP on :80, tailnet-cert HTTPS on :443, or public Funnel

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/wa-gateway/internal/config"
)

// tailnetStateDir defaults to ~/.local/share/wa-gateway/tailscale.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "wa-gateway", "tailscale"), nil
}

// newTailnetServer builds the tsnet node. An empty auth key falls back to
// TS_AUTHKEY; with neither, tsnet logs a login URL on first start.
func (g *Gateway) newTailnetServer(ts config.TailscaleConfig) (*tsnet.Server, error) {
	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := ts.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		g.logger.Warn("no tailscale auth key, watch the log for a login URL")
	}

	tsLog := g.logger.With("component", "tsnet")
	return &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   authKey,
		Logf:      func(format string, args ...any) { tsLog.Debug(fmt.Sprintf(format, args...)) },
		UserLogf:  func(format string, args ...any) { tsLog.Info(fmt.Sprintf(format, args...)) },
	}, nil
}

// listenTailnet joins the tailnet and returns the API listener.
func (g *Gateway) listenTailnet(ctx context.Context) (net.Listener, error) {
	ts := g.config.Tailscale

	srv, err := g.newTailnetServer(ts)
	if err != nil {
		return nil, err
	}
	g.tsnetServer = srv

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", srv.Dir, "ephemeral", ts.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailnet node ready", "tailscale_ip", ip, "dns_name", dnsName)

	ln, err := g.tailnetListener(srv, ts)
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	return ln, nil
}

func (g *Gateway) tailnetListener(srv *tsnet.Server, ts config.TailscaleConfig) (net.Listener, error) {
	if ts.Funnel {
		g.logger.Info("serving publicly through tailscale funnel on :443")
		ln, err := srv.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("funnel listen: %w", err)
		}
		return ln, nil
	}

	if !ts.HTTPS {
		ln, err := srv.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("tailnet listen :80: %w", err)
		}
		return ln, nil
	}

	lc, err := srv.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("tailscale local client: %w", err)
	}
	ln, err := srv.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("tailnet listen :443: %w", err)
	}
	g.logger.Info("serving HTTPS with tailnet certificates on :443")
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

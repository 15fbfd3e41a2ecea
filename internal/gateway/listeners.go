// ABOUTME: Opens the sockets the gateway serves on, over plain TCP or a tsnet node
// ABOUTME: On a tailnet, HTTP is served on :80, :443 with tailnet certs, or through Funnel

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/coven-chat/internal/config"
)

// tailnetGRPCPort is where the health service listens when on a tailnet
const tailnetGRPCPort = ":50051"

// listeners are the sockets one Run serves on
type listeners struct {
	http net.Listener
	grpc net.Listener // nil without a gRPC server
}

func (l listeners) close() {
	if l.http != nil {
		_ = l.http.Close()
	}
	if l.grpc != nil {
		_ = l.grpc.Close()
	}
}

// listen opens listeners on the tailnet when enabled, otherwise on the
// configured TCP addresses
func (g *Gateway) listen(ctx context.Context) (listeners, error) {
	if !g.config.Tailscale.Enabled {
		return g.listenTCP()
	}
	if srv := g.config.Server; srv.HTTPAddr != "" || srv.GRPCAddr != "" {
		g.logger.Warn("server addresses are ignored on a tailnet",
			"http_addr", srv.HTTPAddr, "grpc_addr", srv.GRPCAddr)
	}
	return g.listenTailnet(ctx)
}

func (g *Gateway) listenTCP() (listeners, error) {
	var ls listeners
	var err error

	if ls.http, err = net.Listen("tcp", g.config.Server.HTTPAddr); err != nil {
		return listeners{}, fmt.Errorf("listening on HTTP address: %w", err)
	}
	if g.grpcServer != nil {
		if ls.grpc, err = net.Listen("tcp", g.config.Server.GRPCAddr); err != nil {
			ls.close()
			return listeners{}, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	return ls, nil
}

// serve starts a goroutine per listener. Failures arrive on the returned channel.
func (g *Gateway) serve(ls listeners) <-chan error {
	errCh := make(chan error, 2)

	if ls.grpc != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", ls.grpc.Addr().String())
			if err := g.grpcServer.Serve(ls.grpc); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", ls.http.Addr().String())
		if err := g.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// tailnetStateDir defaults to ~/.local/share/coven-chat/tailscale
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving tailscale state dir (set tailscale.state_dir): %w", err)
	}
	return filepath.Join(home, ".local", "share", "coven-chat", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// listenTailnet brings up a tsnet node and opens the gateway's listeners on it.
// The node is kept on the gateway so Shutdown can close it.
func (g *Gateway) listenTailnet(ctx context.Context) (listeners, error) {
	ts := g.config.Tailscale

	dir, err := tailnetStateDir(ts.StateDir)
	if err != nil {
		return listeners{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return listeners{}, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	key, err := tailnetAuthKey(ts.AuthKey)
	if err != nil {
		return listeners{}, err
	}

	node := &tsnet.Server{
		Hostname:  ts.Hostname,
		Dir:       dir,
		Ephemeral: ts.Ephemeral,
		AuthKey:   key,
	}

	g.logger.Info("joining tailnet", "hostname", ts.Hostname, "state_dir", dir, "ephemeral", ts.Ephemeral)
	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return listeners{}, fmt.Errorf("starting tailscale: %w", err)
	}

	var ip, dnsName string
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailnet node up", "hostname", ts.Hostname, "tailscale_ip", ip, "dns_name", dnsName)

	var ls listeners
	if ls.http, err = tailnetHTTPListener(node, ts); err != nil {
		_ = node.Close()
		return listeners{}, err
	}
	if g.grpcServer != nil {
		if ls.grpc, err = node.Listen("tcp", tailnetGRPCPort); err != nil {
			ls.close()
			_ = node.Close()
			return listeners{}, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	g.tsnetServer = node
	return ls, nil
}

// tailnetHTTPListener picks Funnel, then tailnet HTTPS, then plain :80
func tailnetHTTPListener(node *tsnet.Server, ts config.TailscaleConfig) (net.Listener, error) {
	if ts.Funnel {
		ln, err := node.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	}

	if !ts.HTTPS {
		ln, err := node.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	ln, err := node.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := node.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// ABOUTME: gRPC health service for load balancers and orchestrators
// ABOUTME: Reports SERVING while the store answers pings and NOT_SERVING during shutdown

package gateway

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthServiceName is the service name reported alongside the overall status
const HealthServiceName = "coven.chat.v1.Chat"

// newGRPCServer creates a gRPC server exposing grpc.health.v1
func newGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// refreshHealth sets the serving status from a store ping
func (g *Gateway) refreshHealth(ctx context.Context) {
	if g.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthServiceName, status)
}

// watchHealth refreshes health status until ctx ends
func (g *Gateway) watchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval/2)
			g.refreshHealth(pingCtx)
			cancel()
		}
	}
}

// stopGRPC marks every service NOT_SERVING and drains in-flight calls,
// forcing a stop if ctx ends first
func (g *Gateway) stopGRPC(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		g.grpcServer.GracefulStop()
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments the relay client with tracing and metrics and logs
// every command at debug level.
func MonitorRedis(r redis.UniversalClient, logger *slog.Logger) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	r.AddHook(redisLog{logger: logger})
	return nil
}

type redisLog struct {
	logger *slog.Logger
}

func (l redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			l.logger.WarnContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return nil, err
		}

		l.logger.InfoContext(ctx, "redis: dialed", "network", network, "addr", addr)
		return conn, nil
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		l.logger.DebugContext(ctx, "redis: command", "cmd", cmd.Name(), "took", time.Since(start), "error", err)
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		l.logger.DebugContext(ctx, "redis: pipeline", "cmds", len(cmds), "took", time.Since(start), "error", err)
		return err
	}
}

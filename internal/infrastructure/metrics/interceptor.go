package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a gRPC interceptor that records metrics for
// each request. Failed calls are logged with their status code; logger and
// exporter may be nil.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter, logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		method := info.FullMethod

		collector.RecordRequest(method)
		if exporter != nil {
			exporter.RecordRequest(method)
		}

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		collector.RecordDuration(method, duration.Seconds())
		if exporter != nil {
			exporter.RecordDuration(method, duration.Seconds())
		}

		if err != nil {
			collector.RecordError(method)
			if exporter != nil {
				exporter.RecordError(method)
			}

			code := status.Code(err)
			fields := []zap.Field{zap.String("method", method), zap.String("code", code.String()), zap.Duration("duration", duration), zap.Error(err)}
			if code == codes.Internal || code == codes.Unknown || code == codes.Unavailable {
				logger.Error("request failed", fields...)
			} else {
				logger.Debug("request rejected", fields...)
			}
		}

		return resp, err
	}
}

package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func captureLogs(t *testing.T) *logtest.Hook {
	t.Helper()
	base, hook := logtest.NewNullLogger()
	previous := logger
	logger = base.WithField("module", "gateways-grpc")
	t.Cleanup(func() { logger = previous })
	return hook
}

func TestRequestIDFromMetadataTrims(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "  grpc-abc "))
	if got := requestIDFromMetadata(ctx); got != "grpc-abc" {
		t.Fatalf("expected grpc-abc, got %q", got)
	}
	if got := requestIDFromMetadata(context.Background()); got != "" {
		t.Fatalf("expected empty id without metadata, got %q", got)
	}
}

func TestRequestIDInterceptorRequiresHeader(t *testing.T) {
	called := false
	_, err := RequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, interface{}) (interface{}, error) {
		called = true
		return nil, nil
	})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing x-request-id, got %v", err)
	}
	if called {
		t.Fatal("handler must not run without a request id")
	}
}

func TestRequestIDInterceptorStoresIncomingHeader(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "grpc-fixed"))

	var seen string
	_, err := RequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ interface{}) (interface{}, error) {
		seen = RequestIDFromContext(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "grpc-fixed" {
		t.Fatalf("expected grpc-fixed, got %q", seen)
	}
}

func TestRecoveryInterceptorConvertsPanicToInternal(t *testing.T) {
	hook := captureLogs(t)
	info := &grpc.UnaryServerInfo{FullMethod: "/gateways.GatewayService/Charge"}

	_, err := RecoveryInterceptor()(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("nil merchant")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected codes.Internal, got %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel || entry.Data["method"] != info.FullMethod {
		t.Fatalf("expected panic to be logged, got %+v", entry)
	}
}

func TestLoggingInterceptorRecordsCodeAndRequestID(t *testing.T) {
	hook := captureLogs(t)
	ctx := context.WithValue(context.Background(), requestIDKey{}, "grpc-req-7")
	info := &grpc.UnaryServerInfo{FullMethod: "/gateways.GatewayService/GetCharge"}

	_, err := LoggingInterceptor()(ctx, nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "charge not found")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("expected error to pass through, got %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "grpc_request" {
		t.Fatalf("expected grpc_request entry, got %+v", entry)
	}
	if entry.Data["code"] != codes.NotFound.String() || entry.Data["request_id"] != "grpc-req-7" {
		t.Fatalf("unexpected fields: %v", entry.Data)
	}
	if !errors.Is(entry.Data[logrus.ErrorKey].(error), err) {
		t.Fatalf("expected logged error, got %v", entry.Data[logrus.ErrorKey])
	}
}

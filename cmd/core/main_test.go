package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpc_adapter "github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-locked-ledger/internal/app/core/usecase"
	pb "github.com/JoeShih716/go-locked-ledger/proto"
)

func TestNewServerRegisteredServices(t *testing.T) {
	ledger, err := memory.NewMutexLedger(nil, nil)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	s := newServer(grpc_adapter.NewGrpcServer(usecase.NewCoreUseCase(ledger, log), log), log)
	defer s.Stop()

	services := s.GetServiceInfo()
	assert.Len(t, services, 2)
	assert.Contains(t, services, pb.ServiceName)
	assert.Contains(t, services, healthpb.Health_ServiceDesc.ServiceName)
	assert.NotContains(t, services, "grpc.reflection.v1.ServerReflection")
	assert.Len(t, services[pb.ServiceName].Methods, 7)
}

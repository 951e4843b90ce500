package provider

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"recovery-service/internal/models"
	"recovery-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Simulator resolves calls synchronously without dialing anyone (mocked).
// Useful for local runs and load tests of the scheduling engine.
type Simulator struct {
	logger      *zap.Logger
	successRate float64 // Mock success rate (0.0 - 1.0)
	maxLatency  time.Duration
}

// NewSimulator creates a new simulated provider
func NewSimulator(successRate float64, maxLatency time.Duration) *Simulator {
	return &Simulator{
		logger:      util.GetLogger(),
		successRate: successRate,
		maxLatency:  maxLatency,
	}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Configured(_, _ string) bool { return true }

// CreateCall succeeds with the configured probability and reports the call COMPLETED
func (s *Simulator) CreateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if s.maxLatency > 0 {
		select {
		case <-ctx.Done():
			return CallResult{}, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(s.maxLatency)))):
		}
	}

	if rand.Float64() >= s.successRate {
		s.logger.Warn("Simulated call failed",
			zap.String("job_id", req.Metadata.CallJobID))
		return CallResult{}, fmt.Errorf("simulated provider error")
	}

	callID := fmt.Sprintf("SIM-%s", uuid.New().String()[:8])
	s.logger.Info("Simulated call completed",
		zap.String("job_id", req.Metadata.CallJobID),
		zap.String("provider_call_id", callID))

	return CallResult{
		ProviderCallID: callID,
		Status:         models.JobStatusCompleted,
		Outcome:        "SIMULATED: call completed",
	}, nil
}

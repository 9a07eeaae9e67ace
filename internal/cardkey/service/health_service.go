package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

type HealthService struct {
	store   store.HealthStore
	version string
}

func NewHealthService(hs store.HealthStore, version string) *HealthService {
	return &HealthService{store: hs, version: version}
}

// Check reports healthy only when the database answers.  The error is
// returned alongside a filled response so transports can still render it.
func (s *HealthService) Check(ctx context.Context) (types.HealthResponse, error) {
	resp := types.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
	}

	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		resp.Error = "database unavailable"
		return resp, systemErr("ping database", err)
	}
	resp.Database = "connected"

	st, err := s.store.Stats(ctx)
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = "statistics unavailable"
		return resp, systemErr("stats", err)
	}
	resp.Stats = &types.HealthStats{
		TotalAPIKeys:  st.Credentials,
		TotalCards:    st.Cards,
		ActiveAPIKeys: st.ActiveCredentials,
	}
	return resp, nil
}

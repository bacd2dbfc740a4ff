package handler

import (
	"context"

	"github.com/GmsLightVision/Gms-Trader/internal/domain"
	"github.com/GmsLightVision/Gms-Trader/internal/platform/deriv"
	"github.com/GmsLightVision/Gms-Trader/internal/session"
	"github.com/GmsLightVision/Gms-Trader/internal/staking"
)

// SessionService is the part of the session orchestrator the handlers drive.
type SessionService interface {
	Status(ctx context.Context) session.Status
	State() domain.SessionState
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Toggle(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
	Config() staking.Config
	UpdateConfig(ctx context.Context, cfg staking.Config) error
}

// Connection reports the broker connection.
type Connection interface {
	State() deriv.State
	Pending() int
	Reconnects() int64
}

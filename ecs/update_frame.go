package ecs

import "go.uber.org/zap"

// UpdateFrame is passed to every system during one scheduler tick.
type UpdateFrame struct {
	DeltaTime float64
	Frame     uint64
	World     *World
	Commands  *Commands
	Log       *zap.Logger
}

package router

import "questbot/internal/runtime/supervisor"

type Supervisor = supervisor.Supervisor

var (
	NewSupervisor         = supervisor.New
	WithLogger            = supervisor.WithLogger
	WithCancelOnError     = supervisor.WithCancelOnError
	WithRestartBackoff    = supervisor.WithRestartBackoff
	WithPublishFirstError = supervisor.WithPublishFirstError
)

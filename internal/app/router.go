package app

import (
	"context"

	apphttp "github.com/yungbote/adpilot-backend/internal/http"
	httpH "github.com/yungbote/adpilot-backend/internal/http/handlers"
	httpMW "github.com/yungbote/adpilot-backend/internal/http/middleware"
)

func wireRouter(a *App) apphttp.RouterConfig {
	svc := a.Services
	var serviceName string
	if a.Cfg.Tracing.Enabled {
		serviceName = a.Cfg.Tracing.ServiceName
	}
	ping := func(ctx context.Context) error {
		sqlDB, err := a.DB.DB().DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
	return apphttp.RouterConfig{
		Log:            a.Log,
		ServiceName:    serviceName,
		AllowedOrigins: a.Cfg.AllowedOrigins,
		Metrics:        a.Metrics,
		AuthMiddleware: httpMW.NewAuthMiddleware(a.Log, a.Cfg.JWTSecret),

		HealthHandler:   httpH.NewHealthHandler(ping),
		StatusHandler:   httpH.NewStatusHandler(svc.Status),
		SignalHandler:   httpH.NewSignalHandler(a.Log, a.Bus),
		CreativeHandler: httpH.NewCreativeHandler(a.Repos.Creative, svc.Winners),
		ChangeHandler:   httpH.NewChangeHandler(svc.Queue, a.Repos.AdState),
	}
}

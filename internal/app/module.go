package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/membership/internal/app/api/server"
	"github.com/fatflowers/membership/internal/app/service/eventlog"
	"github.com/fatflowers/membership/internal/app/service/ledger"
	"github.com/fatflowers/membership/internal/app/service/notification"
	"github.com/fatflowers/membership/internal/app/service/payment"
	"github.com/fatflowers/membership/internal/app/service/router"
	"github.com/fatflowers/membership/internal/app/service/scheduler"
	"github.com/fatflowers/membership/internal/app/service/statistics"
	"github.com/fatflowers/membership/internal/app/service/sweep"
	"github.com/fatflowers/membership/internal/app/service/verifier"
	"github.com/fatflowers/membership/internal/platform/billing"
	"github.com/fatflowers/membership/internal/platform/db"
	"github.com/fatflowers/membership/internal/platform/directory"
	"github.com/fatflowers/membership/internal/platform/locker"
	"github.com/fatflowers/membership/internal/platform/mail"
	"github.com/fatflowers/membership/internal/platform/mailinglist"
	"github.com/fatflowers/membership/internal/platform/redis"
	"github.com/fatflowers/membership/pkg/config"
	"github.com/fatflowers/membership/pkg/logger"
	"github.com/fatflowers/membership/pkg/metrics"
	"github.com/fatflowers/membership/pkg/tool"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Core is the service graph without the HTTP server and the scheduled loops.
var Core = fx.Options(
	logger.Module,
	config.Module,
	tool.Module,
	metrics.Module,
	db.Module,
	redis.Module,
	locker.Module,
	directory.Module,
	billing.Module,
	mail.Module,
	mailinglist.Module,
	ledger.Module,
	notification.Module,
	verifier.Module,
	router.Module,
	sweep.Module,
	scheduler.Module,
	payment.Module,
	eventlog.Module,
	statistics.Module,
)

var Module = fx.Options(
	Core,
	server.Module,
	scheduler.Runners,
)

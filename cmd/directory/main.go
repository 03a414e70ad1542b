package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/directory/internal/audit"
	"github.com/smallbiznis/directory/internal/clock"
	"github.com/smallbiznis/directory/internal/collaboration"
	"github.com/smallbiznis/directory/internal/config"
	"github.com/smallbiznis/directory/internal/datasource"
	"github.com/smallbiznis/directory/internal/department"
	"github.com/smallbiznis/directory/internal/directory"
	"github.com/smallbiznis/directory/internal/importer"
	"github.com/smallbiznis/directory/internal/logger"
	"github.com/smallbiznis/directory/internal/migration"
	"github.com/smallbiznis/directory/internal/observability"
	"github.com/smallbiznis/directory/internal/providers"
	"github.com/smallbiznis/directory/internal/relation"
	"github.com/smallbiznis/directory/internal/scheduler"
	"github.com/smallbiznis/directory/internal/seed"
	"github.com/smallbiznis/directory/internal/server"
	"github.com/smallbiznis/directory/internal/task"
	taskhandler "github.com/smallbiznis/directory/internal/task/handler"
	"github.com/smallbiznis/directory/internal/tenant"
	"github.com/smallbiznis/directory/internal/user"
	"github.com/smallbiznis/directory/pkg/db"
	"github.com/smallbiznis/directory/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		telemetry.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		seed.Module,
		clock.Module,
		providers.Module,

		// Functional Domains
		audit.Module,
		tenant.Module,
		datasource.Module,
		relation.Module,
		collaboration.Module,
		department.Module,
		user.Module,
		directory.Module,
		importer.Module,

		// Async work
		task.Module,
		taskhandler.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

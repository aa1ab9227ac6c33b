package main

import (
	"log"

	"github.com/aihub/rag-service/app/bootstrap"
	"github.com/aihub/rag-service/app/router"
	"github.com/aihub/rag-service/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	routes, err := router.Init(app.RouterDeps())
	if err != nil {
		logger.Fatal("failed to register routes", zap.Error(err))
	}

	// 配置Beego全局设置
	web.BConfig.AppName = "RAG Service"
	web.BConfig.CopyRequestBody = true
	web.BConfig.RunMode = runMode(app.Config.Server.Env)
	web.BConfig.Listen.HTTPPort = app.Config.Server.Port
	web.BConfig.MaxMemory = app.Config.Server.MaxUploadSize

	logger.Info("Starting RAG Service",
		zap.Int("port", web.BConfig.Listen.HTTPPort),
		zap.Int("routes", len(routes)))
	web.Run()
}

func runMode(env string) string {
	if env == "production" {
		return web.PROD
	}
	return web.DEV
}

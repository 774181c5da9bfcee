package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetkeeper/internal/controller"
	"fleetkeeper/pkg/config"
	"fleetkeeper/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := config.Init(); err != nil {
		logger.FatalCtx(nil, "configuration error: %v", err)
	}
	if err := logger.Init(); err != nil {
		logger.FatalCtx(nil, "logger initialization failed: %v", err)
	}

	c := controller.New(config.GlobalConfig)

	if err := c.Initialize(); err != nil {
		logger.FatalCtx(nil, "controller initialization failed: %v", err)
	}

	if err := c.Start(); err != nil {
		logger.FatalCtx(nil, "controller startup failed: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Infof("received exit signal: %v", sig)

	if err := c.Shutdown(shutdownTimeout); err != nil {
		logger.Errorf("controller shutdown failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("controller safely exited")
}

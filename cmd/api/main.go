package main

import (
	"context"
	"flag"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-incident-snowsync/internal/app"
	"github.com/imrishuroy/go-incident-snowsync/internal/config"
	"github.com/imrishuroy/go-incident-snowsync/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("info", os.Stderr).Fatal("failed to load config", "error", err)
	}
	logger := logging.New(cfg.Log.Level, os.Stdout)

	if !cfg.Server.RunLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(context.Background(), cfg, app.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to init bridge", "error", err)
	}
	r := a.Router()

	// RUN_LOCAL serves plain HTTP for development.
	if cfg.Server.RunLocal {
		logger.Info("running local server", "addr", cfg.Server.Addr)
		if err := r.Run(cfg.Server.Addr); err != nil {
			logger.Fatal("failed to run local server", "error", err)
		}
		return
	}

	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

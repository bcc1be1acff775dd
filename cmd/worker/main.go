package main

import (
	"context"
	"flag"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

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

	a, err := app.New(context.Background(), cfg, app.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to init bridge", "error", err)
	}

	var budget replayBudget
	if a.Ledger != nil {
		budget = a.Ledger
	}
	p := NewProcessor(a.Forward, a.Reverse, budget, cfg.AWS.MaxReplays, logger)

	// RUN_LOCAL replays a single message taken from LOCAL_SQS_BODY.
	if cfg.Server.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Fatal("LOCAL_SQS_BODY is required in local mode")
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		if err := p.Handle(context.Background(), event); err != nil {
			logger.Fatal("local handler error", "error", err)
		}
		return
	}

	lambda.Start(p.Handle)
}

// Command segment-caching is the Lambda entry point for the segment caching
// worker.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ctvTechLeadSeven/clipping-engine/internal/cache"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/observability/logging"
)

func main() {
	logger := logging.WithComponent(logging.Init(logging.Config{
		Level:  os.Getenv("CLIPPING_LOG_LEVEL"),
		Format: string(logging.FormatJSON),
	}), "segment-caching")

	cfg, err := cache.LoadConfigFromEnv()
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	handler, err := cache.NewHandler(cache.HandlerConfig{
		Objects:        s3.NewFromConfig(awsCfg),
		Bus:            eventbridge.NewFromConfig(awsCfg),
		Metrics:        cloudwatch.NewFromConfig(awsCfg),
		Plugins:        dynamodb.NewFromConfig(awsCfg),
		CacheBucket:    cfg.CacheBucket,
		EventBus:       cfg.EventBus,
		PluginTable:    cfg.PluginTable,
		MaxConcurrency: cfg.MaxConcurrency,
		EmitMetrics:    cfg.EmitMetrics,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("build handler", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.HandleEvent)
}

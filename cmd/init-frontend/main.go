// Command init-frontend pushes the deployed stack's settings to the Amplify
// console app and seeds the default transition configuration.
package main

import (
	"context"
	"flag"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/amplify"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/ctvTechLeadSeven/clipping-engine/internal/frontend"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/observability/logging"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/profiles"
)

func main() {
	var (
		region      = flag.String("region", os.Getenv("AWS_REGION"), "deployment region")
		outputsFile = flag.String("outputs-file", "", "read stack outputs from this cdk-outputs.json instead of CloudFormation")
	)
	flag.Parse()

	logger := logging.WithComponent(logging.Init(logging.Config{
		Level: os.Getenv("CLIPPING_LOG_LEVEL"),
	}), "init-frontend")

	if strings.TrimSpace(*region) == "" {
		logger.Error("region must be set via -region or AWS_REGION")
		os.Exit(1)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*region))
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	var outputs frontend.StackOutputs
	if *outputsFile != "" {
		outputs, err = frontend.OutputsFromFile(*outputsFile)
	} else {
		outputs, err = frontend.OutputsFromStack(ctx, cloudformation.NewFromConfig(awsCfg))
	}
	if err != nil {
		logger.Error("resolve stack outputs", "error", err)
		os.Exit(1)
	}

	boot, err := frontend.NewBootstrapper(ssm.NewFromConfig(awsCfg), amplify.NewFromConfig(awsCfg), *region, logger)
	if err != nil {
		logger.Error("build bootstrapper", "error", err)
		os.Exit(1)
	}

	endpoints, err := boot.ResolveEndpoints(ctx)
	if err != nil {
		logger.Error("resolve endpoints", "error", err)
		os.Exit(1)
	}
	if err := boot.ConfigureApp(ctx, outputs, endpoints); err != nil {
		logger.Error("configure amplify app", "error", err)
		os.Exit(1)
	}
	logger.Info("updated amplify configuration and custom headers")

	transitionTable, err := boot.TransitionTableName(ctx)
	if err != nil {
		logger.Error("resolve transition config table", "error", err)
		os.Exit(1)
	}
	if err := profiles.SeedTransitionConfig(ctx, dynamodb.NewFromConfig(awsCfg), transitionTable, endpoints.TransitionClipBucket, logger); err != nil {
		logger.Error("seed transition config", "error", err)
		os.Exit(1)
	}
	logger.Info("seeded default transition config", "table", transitionTable)

	logger.Info("redeploy the frontend app in the Amplify console for the changes to take effect")
}

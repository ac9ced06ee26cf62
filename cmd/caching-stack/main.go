// Command caching-stack synthesizes the CloudFormation template for the
// segment caching worker.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/ctvTechLeadSeven/clipping-engine/internal/infra"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/observability/logging"
)

func main() {
	defer jsii.Close()

	var (
		stackName   = flag.String("stack-name", "clipping-segment-caching", "CloudFormation stack name")
		cacheBucket = flag.String("cache-bucket", os.Getenv("CLIPPING_SEGMENT_CACHE_BUCKET"), "segment cache bucket name")
		codePath    = flag.String("code-path", "dist/segment-caching", "directory holding the Lambda bootstrap binary")
	)
	flag.Parse()

	logger := logging.WithComponent(logging.Init(logging.Config{
		Level: os.Getenv("CLIPPING_LOG_LEVEL"),
	}), "caching-stack")

	if strings.TrimSpace(*cacheBucket) == "" {
		logger.Error("cache bucket must be set via -cache-bucket or CLIPPING_SEGMENT_CACHE_BUCKET")
		os.Exit(1)
	}

	app := awscdk.NewApp(nil)
	infra.NewSegmentCachingStack(app, *stackName, &infra.SegmentCachingStackProps{
		SegmentCacheBucketName: strings.TrimSpace(*cacheBucket),
		CodePath:               *codePath,
	})
	app.Synth(nil)
}

// Package infra defines the CDK stack that deploys the segment caching
// worker: its IAM role, the Lambda function, and the event bus rule that
// feeds it segment lifecycle events.
package infra

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"
)

// EventBusName is the shared event bus the replay engine publishes lifecycle
// events on. The bus is owned by another stack; this one only attaches to it.
const EventBusName = "aws-mre-event-bus"

// SegmentCachingStackProps configures the caching stack.
type SegmentCachingStackProps struct {
	awscdk.StackProps

	// SegmentCacheBucketName is the bucket segments and features are
	// mirrored into.
	SegmentCacheBucketName string

	// CodePath points at the directory holding the compiled Lambda
	// bootstrap binary.
	CodePath string
}

// NewSegmentCachingStack builds the caching stack. The plugin table name and
// ARN come from CloudFormation exports owned by the control plane stack.
func NewSegmentCachingStack(scope constructs.Construct, id string, props *SegmentCachingStackProps) awscdk.Stack {
	var sprops awscdk.StackProps
	if props != nil {
		sprops = props.StackProps
	}
	stack := awscdk.NewStack(scope, &id, &sprops)

	eventBus := awsevents.EventBus_FromEventBusName(stack, jsii.String("SegmentEventBus"), jsii.String(EventBusName))

	role := awsiam.NewRole(stack, jsii.String("SegmentCachingRole"), &awsiam.RoleProps{
		AssumedBy: awsiam.NewServicePrincipal(jsii.String("lambda.amazonaws.com"), nil),
	})
	for _, statement := range cachingPolicyStatements(props.SegmentCacheBucketName) {
		role.AddToPolicy(statement)
	}

	fn := awslambda.NewFunction(stack, jsii.String("SegmentCaching"), &awslambda.FunctionProps{
		Description: jsii.String("Caches segments and related features outputted by replay workflows in S3"),
		Runtime:     awslambda.Runtime_PROVIDED_AL2023(),
		Code:        awslambda.Code_FromAsset(jsii.String(props.CodePath), nil),
		Handler:     jsii.String("bootstrap"),
		Role:        role,
		MemorySize:  jsii.Number(10240),
		Timeout:     awscdk.Duration_Minutes(jsii.Number(15)),
		Environment: &map[string]*string{
			"PLUGIN_TABLE":          awscdk.Fn_ImportValue(jsii.String("mre-plugin-table-name")),
			"SEGMENT_CACHE_BUCKET":  jsii.String(props.SegmentCacheBucketName),
			"EB_EVENT_BUS_NAME":     jsii.String(EventBusName),
			"ENABLE_CUSTOM_METRICS": jsii.String("Y"),
			"MAX_NUMBER_OF_THREADS": jsii.String("10"),
		},
	})

	rule := awsevents.NewRule(stack, jsii.String("SegmentEndRule"), &awsevents.RuleProps{
		Description: jsii.String("Rule that captures the lifecycle events SEGMENT_END, OPTIMIZED_SEGMENT_END - Used for Segment Caching"),
		Enabled:     jsii.Bool(true),
		EventBus:    eventBus,
		EventPattern: &awsevents.EventPattern{
			Source: jsii.Strings("awsmre"),
			Detail: &map[string]interface{}{
				"State": []string{"OPTIMIZED_SEGMENT_END", "SEGMENT_END"},
			},
		},
		Targets: &[]awsevents.IRuleTarget{
			awseventstargets.NewLambdaFunction(fn, nil),
		},
	})
	rule.Node().AddDependency(eventBus)
	rule.Node().AddDependency(fn)

	return stack
}

// cachingPolicyStatements enumerates what the worker is allowed to touch:
// its own logs, the shared event bus, API Gateway endpoints, the cache
// bucket, the plugin table, deployment parameters, and the custom metric
// namespace.
func cachingPolicyStatements(cacheBucket string) []awsiam.PolicyStatement {
	return []awsiam.PolicyStatement{
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect: awsiam.Effect_ALLOW,
			Actions: jsii.Strings(
				"logs:CreateLogGroup",
				"logs:CreateLogStream",
				"logs:PutLogEvents",
			),
			Resources: jsii.Strings("*"),
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect: awsiam.Effect_ALLOW,
			Actions: jsii.Strings(
				"events:DescribeEventBus",
				"events:PutEvents",
			),
			Resources: jsii.Strings(fmt.Sprintf("arn:aws:events:*:*:event-bus/%s", EventBusName)),
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect: awsiam.Effect_ALLOW,
			Actions: jsii.Strings(
				"execute-api:Invoke",
				"execute-api:ManageConnections",
			),
			Resources: jsii.Strings("arn:aws:execute-api:*:*:*"),
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect: awsiam.Effect_ALLOW,
			Actions: jsii.Strings(
				"s3:Get*",
				"s3:Put*",
				"s3:List*",
			),
			Resources: jsii.Strings(
				fmt.Sprintf("arn:aws:s3:::%s", cacheBucket),
				fmt.Sprintf("arn:aws:s3:::%s/*", cacheBucket),
			),
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect:    awsiam.Effect_ALLOW,
			Actions:   jsii.Strings("dynamodb:GetItem"),
			Resources: &[]*string{awscdk.Fn_ImportValue(jsii.String("mre-plugin-table-arn"))},
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect: awsiam.Effect_ALLOW,
			Actions: jsii.Strings(
				"ssm:DescribeParameters",
				"ssm:GetParameter*",
			),
			Resources: jsii.Strings("arn:aws:ssm:*:*:parameter/MRE*"),
		}),
		awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
			Effect:    awsiam.Effect_ALLOW,
			Actions:   jsii.Strings("cloudwatch:PutMetricData"),
			Resources: jsii.Strings("*"),
			Conditions: &map[string]interface{}{
				"StringEquals": map[string]string{
					"cloudwatch:namespace": "MRE",
				},
			},
		}),
	}
}

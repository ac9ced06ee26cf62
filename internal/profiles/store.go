// Package profiles reads processing profiles and seeds baseline
// configuration rows in DynamoDB.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableAPI is the slice of the DynamoDB API the store uses. *dynamodb.Client
// satisfies it.
type TableAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ErrProfileNotFound indicates no profile row exists under the given name.
var ErrProfileNotFound = errors.New("profile not found")

// Store looks up processing profiles by name.
type Store struct {
	client TableAPI
	table  string
	logger *slog.Logger
}

// NewStore returns a Store bound to the given profile table.
func NewStore(client TableAPI, table string, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("profile table name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, table: strings.TrimSpace(table), logger: logger}, nil
}

type profileRow struct {
	Name      string `dynamodbav:"Name"`
	ChunkSize int32  `dynamodbav:"ChunkSize"`
}

// ChunkSize returns the chunk size in seconds configured for the named
// profile. The read is consistent because attach decisions must see the
// latest profile edit.
func (s *Store) ChunkSize(ctx context.Context, name string) (int32, error) {
	if strings.TrimSpace(name) == "" {
		return 0, errors.New("profile name is required")
	}

	s.logger.Debug("looking up profile", "profile", name)
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"Name": &types.AttributeValueMemberS{Value: name},
		},
		ProjectionExpression: aws.String("#Name, #ChunkSize"),
		ExpressionAttributeNames: map[string]string{
			"#Name":      "Name",
			"#ChunkSize": "ChunkSize",
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("get profile %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		return 0, fmt.Errorf("profile %s: %w", name, ErrProfileNotFound)
	}

	var row profileRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return 0, fmt.Errorf("unmarshal profile %s: %w", name, err)
	}
	if row.ChunkSize <= 0 {
		return 0, fmt.Errorf("profile %s has no usable chunk size", name)
	}
	return row.ChunkSize, nil
}

// TransitionConfig is a clip transition definition stored in the transition
// config table.
type TransitionConfig struct {
	Name                 string           `dynamodbav:"Name"`
	Config               map[string]int32 `dynamodbav:"Config"`
	Description          string           `dynamodbav:"Description"`
	ImageLocation        string           `dynamodbav:"ImageLocation"`
	IsDefault            bool             `dynamodbav:"IsDefault"`
	MediaType            string           `dynamodbav:"MediaType"`
	PreviewVideoLocation string           `dynamodbav:"PreviewVideoLocation"`
}

// DefaultTransitionConfig builds the FadeInFadeOut row seeded into a fresh
// deployment. Asset paths point into the transition clip bucket.
func DefaultTransitionConfig(transitionClipBucket string) TransitionConfig {
	return TransitionConfig{
		Name: "FadeInFadeOut",
		Config: map[string]int32{
			"FadeInMs":  500,
			"FadeOutMs": 500,
		},
		Description:          "Black Fade in and Fade Out. This is the default Transition.",
		ImageLocation:        fmt.Sprintf("s3://%s/FadeInFadeOut/transition_images/BlackFadeInFadeOut.png", transitionClipBucket),
		IsDefault:            true,
		MediaType:            "Image",
		PreviewVideoLocation: fmt.Sprintf("s3://%s/FadeInFadeOut/preview/FadeInOutSample.mp4", transitionClipBucket),
	}
}

// SeedTransitionConfig writes the default transition row into the given
// table. It overwrites an existing row of the same name, so rerunning the
// bootstrap is harmless.
func SeedTransitionConfig(ctx context.Context, client TableAPI, table, transitionClipBucket string, logger *slog.Logger) error {
	if client == nil {
		return errors.New("dynamodb client is required")
	}
	if strings.TrimSpace(table) == "" {
		return errors.New("transition config table name is required")
	}
	if strings.TrimSpace(transitionClipBucket) == "" {
		return errors.New("transition clip bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	item, err := attributevalue.MarshalMap(DefaultTransitionConfig(transitionClipBucket))
	if err != nil {
		return fmt.Errorf("marshal transition config: %w", err)
	}

	logger.Info("seeding default transition config", "table", table)
	if _, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("seed transition config: %w", err)
	}
	return nil
}

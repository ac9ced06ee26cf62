// Package cache implements the segment caching worker. It consumes segment
// lifecycle events off the event bus, copies each referenced feature object
// into the segment cache bucket, records the segment, and announces the
// cached segment back on the bus.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// States that mark a segment as ready to cache. Anything else on the rule is
// ignored without error so rule changes cannot break the worker.
const (
	StateSegmentEnd          = "SEGMENT_END"
	StateOptimizedSegmentEnd = "OPTIMIZED_SEGMENT_END"

	// cachedState is published back to the bus once a segment is stored.
	cachedState = "SEGMENT_CACHED"

	eventSource     = "awsmre"
	metricNamespace = "MRE"
)

// ObjectAPI is the slice of the S3 API used to copy feature objects and
// write segment records.
type ObjectAPI interface {
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BusAPI publishes events to the event bus.
type BusAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// MetricAPI pushes custom metrics.
type MetricAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// PluginAPI reads plugin rows from the plugin table.
type PluginAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// SegmentDetail is the payload carried on segment lifecycle events.
type SegmentDetail struct {
	State   string      `json:"State"`
	Program string      `json:"Program"`
	Event   string      `json:"Event"`
	Profile string      `json:"Profile"`
	Segment SegmentMeta `json:"Segment"`
}

// SegmentMeta describes the segment itself plus the feature objects that
// plugins produced for it.
type SegmentMeta struct {
	Start            float64  `json:"Start"`
	End              float64  `json:"End"`
	ClassifierPlugin string   `json:"ClassifierPlugin"`
	FeatureLocations []string `json:"FeatureLocations"`
}

// HandlerConfig wires the handler to its AWS dependencies and deployment
// settings.
type HandlerConfig struct {
	Objects     ObjectAPI
	Bus         BusAPI
	Metrics     MetricAPI
	Plugins     PluginAPI
	CacheBucket string
	EventBus    string
	PluginTable string

	// MaxConcurrency bounds parallel feature copies. Zero means serial.
	MaxConcurrency int

	// EmitMetrics enables the custom cached-segment metric.
	EmitMetrics bool

	Logger *slog.Logger
}

// Handler caches segments announced on the event bus.
type Handler struct {
	cfg    HandlerConfig
	logger *slog.Logger
}

// NewHandler validates the configuration and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	switch {
	case cfg.Objects == nil:
		return nil, errors.New("s3 client is required")
	case cfg.Bus == nil:
		return nil, errors.New("eventbridge client is required")
	case strings.TrimSpace(cfg.CacheBucket) == "":
		return nil, errors.New("cache bucket is required")
	case strings.TrimSpace(cfg.EventBus) == "":
		return nil, errors.New("event bus name is required")
	}
	if cfg.EmitMetrics && cfg.Metrics == nil {
		return nil, errors.New("cloudwatch client is required when custom metrics are enabled")
	}
	if cfg.Plugins != nil && strings.TrimSpace(cfg.PluginTable) == "" {
		return nil, errors.New("plugin table name is required when plugin lookups are enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, logger: logger}, nil
}

// HandleEvent is the Lambda entry point for EventBridge deliveries.
func (h *Handler) HandleEvent(ctx context.Context, event events.CloudWatchEvent) error {
	var detail SegmentDetail
	if err := json.Unmarshal(event.Detail, &detail); err != nil {
		return fmt.Errorf("decode event detail: %w", err)
	}
	return h.CacheSegment(ctx, detail)
}

// CacheSegment copies the segment's feature objects into the cache bucket,
// writes the segment record, and publishes SEGMENT_CACHED. Events whose
// state is not a segment end are skipped.
func (h *Handler) CacheSegment(ctx context.Context, detail SegmentDetail) error {
	if detail.State != StateSegmentEnd && detail.State != StateOptimizedSegmentEnd {
		h.logger.Info("ignoring event in unhandled state", "state", detail.State)
		return nil
	}
	if err := validateDetail(detail); err != nil {
		return err
	}

	h.logger.Info("caching segment",
		"program", detail.Program, "event", detail.Event,
		"start", detail.Segment.Start, "features", len(detail.Segment.FeatureLocations))

	if err := h.copyFeatures(ctx, detail); err != nil {
		return err
	}
	if err := h.writeSegmentRecord(ctx, detail); err != nil {
		return err
	}
	if h.cfg.EmitMetrics {
		if err := h.emitCachedMetric(ctx, detail); err != nil {
			// Metric delivery never fails the cache operation.
			h.logger.Warn("failed to emit cached segment metric", "error", err)
		}
	}
	return h.publishCached(ctx, detail)
}

func validateDetail(detail SegmentDetail) error {
	switch {
	case strings.TrimSpace(detail.Program) == "":
		return errors.New("event detail is missing the program name")
	case strings.TrimSpace(detail.Event) == "":
		return errors.New("event detail is missing the event name")
	case strings.TrimSpace(detail.Profile) == "":
		return errors.New("event detail is missing the profile name")
	case detail.Segment.End < detail.Segment.Start:
		return fmt.Errorf("segment ends at %v before it starts at %v", detail.Segment.End, detail.Segment.Start)
	}
	return nil
}

func (h *Handler) segmentPrefix(detail SegmentDetail) string {
	return fmt.Sprintf("%s/%s/%s/%.3f", detail.Program, detail.Event, detail.Profile, detail.Segment.Start)
}

// copyFeatures mirrors every feature object into the cache bucket. Copies
// run concurrently up to MaxConcurrency; the first failure cancels the rest.
func (h *Handler) copyFeatures(ctx context.Context, detail SegmentDetail) error {
	group, ctx := errgroup.WithContext(ctx)
	if h.cfg.MaxConcurrency > 0 {
		group.SetLimit(h.cfg.MaxConcurrency)
	} else {
		group.SetLimit(1)
	}

	prefix := h.segmentPrefix(detail)
	for _, location := range detail.Segment.FeatureLocations {
		location := location
		group.Go(func() error {
			bucket, key, err := splitS3URI(location)
			if err != nil {
				return err
			}
			_, err = h.cfg.Objects.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(h.cfg.CacheBucket),
				CopySource: aws.String(bucket + "/" + key),
				Key:        aws.String(prefix + "/features/" + key),
			})
			if err != nil {
				return fmt.Errorf("copy feature %s: %w", location, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// writeSegmentRecord stores the segment detail, enriched with the classifier
// plugin's configuration when one is named, as JSON next to the features.
func (h *Handler) writeSegmentRecord(ctx context.Context, detail SegmentDetail) error {
	record := map[string]any{
		"Program":          detail.Program,
		"Event":            detail.Event,
		"Profile":          detail.Profile,
		"State":            detail.State,
		"Start":            detail.Segment.Start,
		"End":              detail.Segment.End,
		"FeatureLocations": detail.Segment.FeatureLocations,
		"CachedAt":         time.Now().UTC().Format(time.RFC3339),
	}
	if detail.Segment.ClassifierPlugin != "" && h.cfg.Plugins != nil {
		attrs, err := h.pluginAttributes(ctx, detail.Segment.ClassifierPlugin)
		if err != nil {
			return err
		}
		if attrs != nil {
			record["ClassifierPlugin"] = attrs
		}
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal segment record: %w", err)
	}
	_, err = h.cfg.Objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.cfg.CacheBucket),
		Key:         aws.String(h.segmentPrefix(detail) + "/segment.json"),
		Body:        strings.NewReader(string(body)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("write segment record: %w", err)
	}
	return nil
}

// pluginAttributes reads the named plugin's row from the plugin table. A
// missing row is logged and tolerated since the segment is cacheable without
// plugin metadata.
func (h *Handler) pluginAttributes(ctx context.Context, name string) (map[string]string, error) {
	out, err := h.cfg.Plugins.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(h.cfg.PluginTable),
		Key: map[string]ddbtypes.AttributeValue{
			"Name":    &ddbtypes.AttributeValueMemberS{Value: name},
			"Version": &ddbtypes.AttributeValueMemberS{Value: "v0"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get plugin %s: %w", name, err)
	}
	if len(out.Item) == 0 {
		h.logger.Warn("classifier plugin not found in plugin table", "plugin", name)
		return nil, nil
	}

	attrs := make(map[string]string, len(out.Item))
	for key, value := range out.Item {
		if s, ok := value.(*ddbtypes.AttributeValueMemberS); ok {
			attrs[key] = s.Value
		}
	}
	return attrs, nil
}

func (h *Handler) emitCachedMetric(ctx context.Context, detail SegmentDetail) error {
	_, err := h.cfg.Metrics.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(metricNamespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("CachedSegments"),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String("Program"), Value: aws.String(detail.Program)},
					{Name: aws.String("Event"), Value: aws.String(detail.Event)},
				},
			},
		},
	})
	return err
}

func (h *Handler) publishCached(ctx context.Context, detail SegmentDetail) error {
	cached := detail
	cached.State = cachedState
	body, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cached event: %w", err)
	}

	out, err := h.cfg.Bus.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []ebtypes.PutEventsRequestEntry{
			{
				Source:       aws.String(eventSource),
				DetailType:   aws.String("Segment Cache Status"),
				Detail:       aws.String(string(body)),
				EventBusName: aws.String(h.cfg.EventBus),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("publish cached event: %w", err)
	}
	if out.FailedEntryCount > 0 {
		return fmt.Errorf("event bus rejected %d cached event entries", out.FailedEntryCount)
	}
	return nil
}

// splitS3URI parses s3:// and s3ssl:// URIs into bucket and key.
func splitS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(uri, "s3ssl://"), "s3://")
	if trimmed == uri {
		return "", "", fmt.Errorf("location %q is not an S3 URI", uri)
	}
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("location %q is missing a bucket or key", uri)
	}
	return bucket, key, nil
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeObjectAPI struct {
	mu        sync.Mutex
	copies    []*s3.CopyObjectInput
	puts      []*s3.PutObjectInput
	copyErr   error
	putObjErr error
}

func (f *fakeObjectAPI) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, params)
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, params)
	if f.putObjErr != nil {
		return nil, f.putObjErr
	}
	return &s3.PutObjectOutput{}, nil
}

type fakeBusAPI struct {
	input  *eventbridge.PutEventsInput
	failed int32
	err    error
}

func (f *fakeBusAPI) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &eventbridge.PutEventsOutput{FailedEntryCount: f.failed}, nil
}

type fakeMetricAPI struct {
	input *cloudwatch.PutMetricDataInput
}

func (f *fakeMetricAPI) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.input = params
	return &cloudwatch.PutMetricDataOutput{}, nil
}

type fakePluginAPI struct {
	input  *dynamodb.GetItemInput
	output *dynamodb.GetItemOutput
	err    error
}

func (f *fakePluginAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func testDetail() SegmentDetail {
	return SegmentDetail{
		State:   StateSegmentEnd,
		Program: "cup",
		Event:   "final",
		Profile: "soccer",
		Segment: SegmentMeta{
			Start: 120.5,
			End:   140.5,
			FeatureLocations: []string{
				"s3://feature-bucket/cup/final/labels.json",
				"s3ssl://feature-bucket/cup/final/scores.json",
			},
		},
	}
}

func newTestHandler(t *testing.T, cfg HandlerConfig) *Handler {
	t.Helper()
	if cfg.CacheBucket == "" {
		cfg.CacheBucket = "segment-cache"
	}
	if cfg.EventBus == "" {
		cfg.EventBus = "aws-mre-event-bus"
	}
	handler, err := NewHandler(cfg)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler
}

func TestCacheSegment(t *testing.T) {
	objects := &fakeObjectAPI{}
	bus := &fakeBusAPI{}
	handler := newTestHandler(t, HandlerConfig{Objects: objects, Bus: bus, MaxConcurrency: 4})

	if err := handler.CacheSegment(context.Background(), testDetail()); err != nil {
		t.Fatalf("CacheSegment: %v", err)
	}

	if len(objects.copies) != 2 {
		t.Fatalf("expected 2 feature copies, got %d", len(objects.copies))
	}
	sources := map[string]bool{}
	for _, copied := range objects.copies {
		if got := aws.ToString(copied.Bucket); got != "segment-cache" {
			t.Fatalf("copy bucket = %q", got)
		}
		sources[aws.ToString(copied.CopySource)] = true
	}
	if !sources["feature-bucket/cup/final/labels.json"] || !sources["feature-bucket/cup/final/scores.json"] {
		t.Fatalf("unexpected copy sources: %v", sources)
	}

	if len(objects.puts) != 1 {
		t.Fatalf("expected 1 segment record, got %d", len(objects.puts))
	}
	record := objects.puts[0]
	if got := aws.ToString(record.Key); got != "cup/final/soccer/120.500/segment.json" {
		t.Fatalf("record key = %q", got)
	}
	body, err := io.ReadAll(record.Body)
	if err != nil {
		t.Fatalf("read record body: %v", err)
	}
	var stored map[string]any
	if err := json.Unmarshal(body, &stored); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if stored["Program"] != "cup" || stored["End"] != 140.5 {
		t.Fatalf("unexpected record contents: %v", stored)
	}

	if bus.input == nil {
		t.Fatal("SEGMENT_CACHED event was not published")
	}
	entry := bus.input.Entries[0]
	if got := aws.ToString(entry.Source); got != "awsmre" {
		t.Fatalf("event source = %q", got)
	}
	if got := aws.ToString(entry.EventBusName); got != "aws-mre-event-bus" {
		t.Fatalf("event bus = %q", got)
	}
	var published SegmentDetail
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &published); err != nil {
		t.Fatalf("unmarshal published detail: %v", err)
	}
	if published.State != "SEGMENT_CACHED" {
		t.Fatalf("published state = %q", published.State)
	}
}

func TestCacheSegmentIgnoresOtherStates(t *testing.T) {
	objects := &fakeObjectAPI{}
	bus := &fakeBusAPI{}
	handler := newTestHandler(t, HandlerConfig{Objects: objects, Bus: bus})

	detail := testDetail()
	detail.State = "SEGMENT_START"
	if err := handler.CacheSegment(context.Background(), detail); err != nil {
		t.Fatalf("CacheSegment: %v", err)
	}
	if len(objects.copies) != 0 || len(objects.puts) != 0 || bus.input != nil {
		t.Fatal("nothing should happen for an unhandled state")
	}
}

func TestCacheSegmentEnrichesRecordWithPlugin(t *testing.T) {
	objects := &fakeObjectAPI{}
	plugins := &fakePluginAPI{
		output: &dynamodb.GetItemOutput{
			Item: map[string]ddbtypes.AttributeValue{
				"Name":  &ddbtypes.AttributeValueMemberS{Value: "SegmentClassifier"},
				"Class": &ddbtypes.AttributeValueMemberS{Value: "Classifier"},
			},
		},
	}
	handler := newTestHandler(t, HandlerConfig{
		Objects: objects, Bus: &fakeBusAPI{},
		Plugins: plugins, PluginTable: "plugin-table",
	})

	detail := testDetail()
	detail.Segment.ClassifierPlugin = "SegmentClassifier"
	if err := handler.CacheSegment(context.Background(), detail); err != nil {
		t.Fatalf("CacheSegment: %v", err)
	}

	if got := aws.ToString(plugins.input.TableName); got != "plugin-table" {
		t.Fatalf("plugin table = %q", got)
	}
	body, _ := io.ReadAll(objects.puts[0].Body)
	var stored map[string]any
	if err := json.Unmarshal(body, &stored); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	attrs, ok := stored["ClassifierPlugin"].(map[string]any)
	if !ok || attrs["Class"] != "Classifier" {
		t.Fatalf("plugin attributes missing from record: %v", stored["ClassifierPlugin"])
	}
}

func TestCacheSegmentEmitsMetricWhenEnabled(t *testing.T) {
	metrics := &fakeMetricAPI{}
	handler := newTestHandler(t, HandlerConfig{
		Objects: &fakeObjectAPI{}, Bus: &fakeBusAPI{},
		Metrics: metrics, EmitMetrics: true,
	})

	if err := handler.CacheSegment(context.Background(), testDetail()); err != nil {
		t.Fatalf("CacheSegment: %v", err)
	}
	if metrics.input == nil {
		t.Fatal("PutMetricData was not called")
	}
	if got := aws.ToString(metrics.input.Namespace); got != "MRE" {
		t.Fatalf("metric namespace = %q", got)
	}
	if got := aws.ToString(metrics.input.MetricData[0].MetricName); got != "CachedSegments" {
		t.Fatalf("metric name = %q", got)
	}
}

func TestCacheSegmentPropagatesCopyFailure(t *testing.T) {
	objects := &fakeObjectAPI{copyErr: errors.New("access denied")}
	handler := newTestHandler(t, HandlerConfig{Objects: objects, Bus: &fakeBusAPI{}})

	if err := handler.CacheSegment(context.Background(), testDetail()); err == nil {
		t.Fatal("expected copy failure to propagate")
	}
}

func TestCacheSegmentRejectsInvertedSegment(t *testing.T) {
	handler := newTestHandler(t, HandlerConfig{Objects: &fakeObjectAPI{}, Bus: &fakeBusAPI{}})

	detail := testDetail()
	detail.Segment.Start, detail.Segment.End = detail.Segment.End, detail.Segment.Start
	if err := handler.CacheSegment(context.Background(), detail); err == nil {
		t.Fatal("expected error for a segment that ends before it starts")
	}
}

func TestCacheSegmentFailsOnRejectedBusEntry(t *testing.T) {
	handler := newTestHandler(t, HandlerConfig{Objects: &fakeObjectAPI{}, Bus: &fakeBusAPI{failed: 1}})

	if err := handler.CacheSegment(context.Background(), testDetail()); err == nil {
		t.Fatal("expected error for rejected bus entry")
	}
}

func TestHandleEventDecodesDetail(t *testing.T) {
	objects := &fakeObjectAPI{}
	handler := newTestHandler(t, HandlerConfig{Objects: objects, Bus: &fakeBusAPI{}})

	detail, err := json.Marshal(testDetail())
	if err != nil {
		t.Fatalf("marshal detail: %v", err)
	}
	event := events.CloudWatchEvent{Source: "awsmre", Detail: detail}
	if err := handler.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(objects.copies) != 2 {
		t.Fatalf("expected 2 feature copies, got %d", len(objects.copies))
	}
}

func TestSplitS3URI(t *testing.T) {
	cases := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{uri: "s3://bucket/path/to/object", bucket: "bucket", key: "path/to/object"},
		{uri: "s3ssl://bucket/object", bucket: "bucket", key: "object"},
		{uri: "https://bucket/object", wantErr: true},
		{uri: "s3://bucket", wantErr: true},
	}
	for _, tc := range cases {
		bucket, key, err := splitS3URI(tc.uri)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitS3URI(%q): expected error", tc.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitS3URI(%q): %v", tc.uri, err)
			continue
		}
		if bucket != tc.bucket || key != tc.key {
			t.Errorf("splitS3URI(%q) = %q, %q", tc.uri, bucket, key)
		}
	}
}

// Package monitor manages the per-channel CloudWatch alarms that watch input
// video frame rate on attached MediaLive channels. One alarm exists per
// channel; creating it is idempotent because PutMetricAlarm overwrites an
// alarm with the same name.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// AlarmAPI is the slice of the CloudWatch API the alarm manager uses.
// *cloudwatch.Client satisfies it.
type AlarmAPI interface {
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	DeleteAlarms(ctx context.Context, params *cloudwatch.DeleteAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

// AlarmManager creates and deletes the frame-rate alarm for a channel.
type AlarmManager struct {
	client AlarmAPI
	logger *slog.Logger
}

// NewAlarmManager returns an AlarmManager backed by the given client.
func NewAlarmManager(client AlarmAPI, logger *slog.Logger) (*AlarmManager, error) {
	if client == nil {
		return nil, errors.New("cloudwatch client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlarmManager{client: client, logger: logger}, nil
}

// AlarmName renders the canonical alarm name for a channel. The name is the
// only handle other components have on the alarm, so its shape is a wire
// contract.
func AlarmName(channelID string) string {
	return fmt.Sprintf("AWS_MRE_MediaLive_%s_InputVideoFrameRate_Alarm", channelID)
}

// EnsureChannelAlarm creates (or overwrites) the InputVideoFrameRate alarm
// for the channel. The alarm fires when the minimum frame rate over a
// ten-second period drops to zero, which is how a stalled or stopped input
// shows up; missing data is treated as breaching so a channel that never
// starts still alarms.
func (m *AlarmManager) EnsureChannelAlarm(ctx context.Context, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.New("channel ID is required")
	}

	name := AlarmName(channelID)
	m.logger.Info("creating channel frame rate alarm", "channel_id", channelID, "alarm", name)

	_, err := m.client.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(name),
		AlarmDescription:   aws.String(fmt.Sprintf("Alarm for monitoring the Input Video Frame Rate of the MediaLive channel %s", channelID)),
		ActionsEnabled:     aws.Bool(false),
		ComparisonOperator: types.ComparisonOperatorLessThanOrEqualToThreshold,
		DatapointsToAlarm:  aws.Int32(1),
		Dimensions: []types.Dimension{
			{Name: aws.String("ChannelId"), Value: aws.String(channelID)},
			{Name: aws.String("Pipeline"), Value: aws.String("0")},
		},
		EvaluationPeriods: aws.Int32(1),
		MetricName:        aws.String("InputVideoFrameRate"),
		Namespace:         aws.String("MediaLive"),
		Period:            aws.Int32(10),
		Statistic:         types.StatisticMinimum,
		Threshold:         aws.Float64(0),
		TreatMissingData:  aws.String("breaching"),
		Tags: []types.Tag{
			{Key: aws.String("Project"), Value: aws.String("MRE")},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric alarm for channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannelAlarm removes the channel's frame rate alarm. Deleting an
// alarm that does not exist is not an error upstream, so callers can invoke
// this unconditionally on detach.
func (m *AlarmManager) DeleteChannelAlarm(ctx context.Context, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return errors.New("channel ID is required")
	}

	name := AlarmName(channelID)
	m.logger.Info("deleting channel frame rate alarm", "channel_id", channelID, "alarm", name)

	_, err := m.client.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: []string{name},
	})
	if err != nil {
		return fmt.Errorf("delete metric alarm for channel %s: %w", channelID, err)
	}
	return nil
}

package medialive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive"
	"github.com/aws/aws-sdk-go-v2/service/medialive/types"
	"github.com/google/uuid"
)

// AttacherConfig wires the attacher to the MediaLive API and the bucket that
// receives chunked segments.
type AttacherConfig struct {
	Client            ChannelAPI
	MediaSourceBucket string
	Logger            *slog.Logger
}

// Attacher adds and removes the replay output group on operator-owned
// MediaLive channels. All mutations are single-shot upserts keyed on the
// fixed replay destination ID; the channel must be IDLE for any of them to
// take effect.
type Attacher struct {
	client ChannelAPI
	bucket string
	logger *slog.Logger
}

// NewAttacher validates the configuration and returns an Attacher.
func NewAttacher(cfg AttacherConfig) (*Attacher, error) {
	if cfg.Client == nil {
		return nil, errors.New("medialive client is required")
	}
	if strings.TrimSpace(cfg.MediaSourceBucket) == "" {
		return nil, errors.New("media source bucket is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Attacher{
		client: cfg.Client,
		bucket: strings.TrimSpace(cfg.MediaSourceBucket),
		logger: logger,
	}, nil
}

// Attach upserts the replay destination, output group, and video description
// on the target channel, deriving audio descriptions from the first input
// attachment when the channel has none. It returns the channel configuration
// as described before the update so callers can persist a restore point.
//
// The channel must be IDLE; otherwise ErrChannelNotIdle is returned.
func (a *Attacher) Attach(ctx context.Context, target Target, chunkSeconds int32) (*medialive.DescribeChannelOutput, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSeconds)
	}

	a.logger.Info("describing channel before attach", "channel_id", target.ChannelID)
	described, err := a.client.DescribeChannel(ctx, &medialive.DescribeChannelInput{
		ChannelId: aws.String(target.ChannelID),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("channel %s: %w", target.ChannelID, ErrChannelNotFound)
		}
		return nil, fmt.Errorf("describe channel %s: %w", target.ChannelID, err)
	}
	if described.State != types.ChannelStateIdle {
		return nil, fmt.Errorf("channel %s is in state %s: %w", target.ChannelID, described.State, ErrChannelNotIdle)
	}
	if described.EncoderSettings == nil {
		return nil, fmt.Errorf("channel %s has no encoder settings", target.ChannelID)
	}

	destinations := upsertDestination(described.Destinations, target.DestinationURL(a.bucket), a.logger, target.ChannelID)
	encoder := described.EncoderSettings

	if len(encoder.AudioDescriptions) == 0 {
		encoder.AudioDescriptions = deriveAudioDescriptions(described.InputAttachments)
	}
	audioNames := audioDescriptionNames(encoder.AudioDescriptions)

	if !updateExistingOutputGroup(encoder.OutputGroups, chunkSeconds, audioNames) {
		encoder.OutputGroups = append(encoder.OutputGroups, replayOutputGroup(chunkSeconds, audioNames))
	} else {
		a.logger.Info("updating existing replay output group", "channel_id", target.ChannelID)
	}

	if !hasVideoDescription(encoder.VideoDescriptions) {
		encoder.VideoDescriptions = append(encoder.VideoDescriptions, replayVideoDescription())
	} else {
		a.logger.Info("replay video description already present", "channel_id", target.ChannelID)
	}

	a.logger.Info("updating channel with replay destination and encoder settings", "channel_id", target.ChannelID)
	if _, err := a.client.UpdateChannel(ctx, &medialive.UpdateChannelInput{
		ChannelId:       aws.String(target.ChannelID),
		Destinations:    destinations,
		EncoderSettings: encoder,
	}); err != nil {
		return nil, fmt.Errorf("update channel %s: %w", target.ChannelID, err)
	}

	return described, nil
}

// Detach removes the replay destination, output group, and video description
// from the target channel. The destination is only removed when its delivery
// URL matches the target, so concurrent events on different channels never
// strip each other's configuration. A missing channel or a non-IDLE state is
// logged and skipped rather than treated as an error.
func (a *Attacher) Detach(ctx context.Context, target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}

	a.logger.Info("describing channel before detach", "channel_id", target.ChannelID)
	described, err := a.client.DescribeChannel(ctx, &medialive.DescribeChannelInput{
		ChannelId: aws.String(target.ChannelID),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			a.logger.Warn("skipping detach, channel not found", "channel_id", target.ChannelID)
			return nil
		}
		return fmt.Errorf("describe channel %s: %w", target.ChannelID, err)
	}
	if described.State != types.ChannelStateIdle {
		a.logger.Info("skipping detach, channel is not IDLE",
			"channel_id", target.ChannelID, "state", string(described.State))
		return nil
	}
	if described.EncoderSettings == nil {
		return nil
	}

	destinations, removed := removeDestination(described.Destinations, target.DestinationURL(a.bucket))
	if !removed {
		a.logger.Info("no replay destination to remove", "channel_id", target.ChannelID)
		return nil
	}

	encoder := described.EncoderSettings
	encoder.OutputGroups = removeOutputGroup(encoder.OutputGroups)
	encoder.VideoDescriptions = removeVideoDescription(encoder.VideoDescriptions)

	a.logger.Info("updating channel after removing replay configuration", "channel_id", target.ChannelID)
	if _, err := a.client.UpdateChannel(ctx, &medialive.UpdateChannelInput{
		ChannelId:       aws.String(target.ChannelID),
		Destinations:    destinations,
		EncoderSettings: encoder,
	}); err != nil {
		return fmt.Errorf("update channel %s: %w", target.ChannelID, err)
	}
	return nil
}

func upsertDestination(destinations []types.OutputDestination, url string, logger *slog.Logger, channelID string) []types.OutputDestination {
	for i, destination := range destinations {
		if aws.ToString(destination.Id) != destinationID {
			continue
		}
		logger.Info("updating existing replay destination", "channel_id", channelID)
		if len(destinations[i].Settings) == 0 {
			destinations[i].Settings = []types.OutputDestinationSettings{{}}
		}
		destinations[i].Settings[0].Url = aws.String(url)
		return destinations
	}
	return append(destinations, types.OutputDestination{
		Id:       aws.String(destinationID),
		Settings: []types.OutputDestinationSettings{{Url: aws.String(url)}},
	})
}

func removeDestination(destinations []types.OutputDestination, url string) ([]types.OutputDestination, bool) {
	for i, destination := range destinations {
		if aws.ToString(destination.Id) != destinationID {
			continue
		}
		if len(destination.Settings) == 0 || aws.ToString(destination.Settings[0].Url) != url {
			continue
		}
		return append(destinations[:i], destinations[i+1:]...), true
	}
	return destinations, false
}

// deriveAudioDescriptions builds FOLLOW_INPUT audio descriptions from the
// audio selectors of the first input attachment. Selector choice is fixed to
// the first attachment for now; a later change could make it operator driven.
func deriveAudioDescriptions(attachments []types.InputAttachment) []types.AudioDescription {
	if len(attachments) == 0 || attachments[0].InputSettings == nil {
		return nil
	}
	selectors := attachments[0].InputSettings.AudioSelectors
	descriptions := make([]types.AudioDescription, 0, len(selectors))
	for _, selector := range selectors {
		descriptions = append(descriptions, types.AudioDescription{
			AudioSelectorName:   selector.Name,
			AudioTypeControl:    types.AudioDescriptionAudioTypeControlFollowInput,
			LanguageCodeControl: types.AudioDescriptionLanguageCodeControlFollowInput,
			Name:                aws.String("audio_" + strings.ReplaceAll(uuid.NewString(), "-", "")),
		})
	}
	return descriptions
}

func audioDescriptionNames(descriptions []types.AudioDescription) []string {
	names := make([]string, 0, len(descriptions))
	for _, description := range descriptions {
		names = append(names, aws.ToString(description.Name))
	}
	return names
}

func isReplayOutputGroup(group types.OutputGroup) bool {
	settings := group.OutputGroupSettings
	if settings == nil || settings.HlsGroupSettings == nil || settings.HlsGroupSettings.Destination == nil {
		return false
	}
	return aws.ToString(settings.HlsGroupSettings.Destination.DestinationRefId) == destinationID
}

func updateExistingOutputGroup(groups []types.OutputGroup, chunkSeconds int32, audioNames []string) bool {
	for i, group := range groups {
		if !isReplayOutputGroup(group) {
			continue
		}
		hls := groups[i].OutputGroupSettings.HlsGroupSettings
		hls.SegmentLength = aws.Int32(chunkSeconds)
		hls.ProgramDateTimePeriod = aws.Int32(chunkSeconds)
		if len(groups[i].Outputs) > 0 {
			groups[i].Outputs[0].AudioDescriptionNames = audioNames
		}
		return true
	}
	return false
}

func removeOutputGroup(groups []types.OutputGroup) []types.OutputGroup {
	for i, group := range groups {
		if isReplayOutputGroup(group) {
			return append(groups[:i], groups[i+1:]...)
		}
	}
	return groups
}

func hasVideoDescription(descriptions []types.VideoDescription) bool {
	for _, description := range descriptions {
		if aws.ToString(description.Name) == videoDescriptionName {
			return true
		}
	}
	return false
}

func removeVideoDescription(descriptions []types.VideoDescription) []types.VideoDescription {
	for i, description := range descriptions {
		if aws.ToString(description.Name) == videoDescriptionName {
			return append(descriptions[:i], descriptions[i+1:]...)
		}
	}
	return descriptions
}

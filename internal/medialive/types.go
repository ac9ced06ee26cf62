package medialive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/medialive"
)

// ChannelAPI is the slice of the MediaLive control plane the attacher relies
// on. *medialive.Client satisfies it; tests supply fakes.
type ChannelAPI interface {
	DescribeChannel(ctx context.Context, params *medialive.DescribeChannelInput, optFns ...func(*medialive.Options)) (*medialive.DescribeChannelOutput, error)
	UpdateChannel(ctx context.Context, params *medialive.UpdateChannelInput, optFns ...func(*medialive.Options)) (*medialive.UpdateChannelOutput, error)
}

// Target identifies the replay destination attached to an operator-owned
// MediaLive channel. Event, Program, and Profile name the live event being
// clipped; together with the channel ID they determine the S3 prefix that
// segments are delivered to.
type Target struct {
	ChannelID string
	Event     string
	Program   string
	Profile   string
}

// Validate reports the first missing field, mirroring the upstream API's
// required-parameter posture.
func (t Target) Validate() error {
	switch {
	case strings.TrimSpace(t.ChannelID) == "":
		return errors.New("channel ID is required")
	case strings.TrimSpace(t.Event) == "":
		return errors.New("event name is required")
	case strings.TrimSpace(t.Program) == "":
		return errors.New("program name is required")
	case strings.TrimSpace(t.Profile) == "":
		return errors.New("profile name is required")
	}
	return nil
}

// DestinationURL renders the s3ssl delivery URL for the target within the
// given media-source bucket.
func (t Target) DestinationURL(bucket string) string {
	return fmt.Sprintf("s3ssl://%s/%s/%s/%s/%s/%s_%s",
		bucket, t.ChannelID, t.Program, t.Event, t.Profile, t.Program, t.Event)
}

var (
	// ErrChannelNotFound indicates the MediaLive channel does not exist.
	ErrChannelNotFound = errors.New("medialive channel not found")

	// ErrChannelNotIdle indicates the channel is running (or in transition)
	// and its encoder settings cannot be mutated.
	ErrChannelNotIdle = errors.New("medialive channel is not in IDLE state")
)

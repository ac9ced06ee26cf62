// Package medialive attaches the clipping pipeline to operator-owned AWS
// MediaLive channels.
//
// Attaching means claiming three entries inside the channel's configuration,
// all keyed on the fixed destination ID "awsmre":
//
//   - a Destination pointing at the media-source S3 bucket,
//   - an HLS OutputGroup chunked to the processing profile's segment length,
//   - a VideoDescription carrying the fixed H264 encode used for clipping.
//
// Every operation is an idempotent upsert implemented by scanning the
// channel's existing lists, so re-attaching an event updates the delivery URL
// and chunk size in place. Detaching is the complementary removal, guarded by
// a URL match so that only the event that owns the destination can strip it.
//
// The channel schema is MediaLive's own; this package deliberately adds no
// abstraction over it beyond the narrow ChannelAPI interface used for
// testing. Mutations are only permitted while the channel is IDLE, which the
// upstream service enforces as well.
package medialive

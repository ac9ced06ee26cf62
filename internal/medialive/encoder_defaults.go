package medialive

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/medialive/types"
)

// Identifiers the replay engine claims inside an operator's channel. The
// destination ref ID doubles as the marker used to find our entries again on
// subsequent attach/detach calls.
const (
	destinationID        = "awsmre"
	outputName           = "awsmre"
	videoDescriptionName = "video_awsmre"
)

// replayOutputGroup builds the HLS output group delivering chunked segments
// to the replay destination. Every constant below is dictated by the segment
// consumer; only the segment length and the audio rendition list vary per
// profile.
func replayOutputGroup(chunkSeconds int32, audioDescriptionNames []string) types.OutputGroup {
	return types.OutputGroup{
		OutputGroupSettings: &types.OutputGroupSettings{
			HlsGroupSettings: &types.HlsGroupSettings{
				AdMarkers:                 []types.HlsAdMarkers{},
				CaptionLanguageMappings:   []types.CaptionLanguageMapping{},
				CaptionLanguageSetting:    types.HlsCaptionLanguageSettingOmit,
				ClientCache:               types.HlsClientCacheEnabled,
				CodecSpecification:        types.HlsCodecSpecificationRfc4281,
				Destination:               &types.OutputLocationRef{DestinationRefId: aws.String(destinationID)},
				DirectoryStructure:        types.HlsDirectoryStructureSingleDirectory,
				DiscontinuityTags:         types.HlsDiscontinuityTagsInsert,
				HlsId3SegmentTagging:      types.HlsId3SegmentTaggingStateDisabled,
				IFrameOnlyPlaylists:       types.IFrameOnlyPlaylistTypeDisabled,
				IncompleteSegmentBehavior: types.HlsIncompleteSegmentBehaviorAuto,
				IndexNSegments:            aws.Int32(10),
				InputLossAction:           types.InputLossActionForHlsOutPauseOutput,
				IvInManifest:              types.HlsIvInManifestInclude,
				IvSource:                  types.HlsIvSourceFollowsSegmentNumber,
				KeepSegments:              aws.Int32(21),
				ManifestCompression:       types.HlsManifestCompressionNone,
				ManifestDurationFormat:    types.HlsManifestDurationFormatFloatingPoint,
				Mode:                      types.HlsModeVod,
				OutputSelection:           types.HlsOutputSelectionVariantManifestsAndSegments,
				ProgramDateTime:           types.HlsProgramDateTimeInclude,
				ProgramDateTimePeriod:     aws.Int32(chunkSeconds),
				RedundantManifest:         types.HlsRedundantManifestDisabled,
				SegmentLength:             aws.Int32(chunkSeconds),
				SegmentationMode:          types.HlsSegmentationModeUseSegmentDuration,
				SegmentsPerSubdirectory:   aws.Int32(10000),
				StreamInfResolution:       types.HlsStreamInfResolutionInclude,
				TimedMetadataId3Frame:     types.HlsTimedMetadataId3FramePriv,
				TimedMetadataId3Period:    aws.Int32(10),
				TsFileMode:                types.HlsTsFileModeSegmentedFiles,
			},
		},
		Outputs: []types.Output{
			{
				AudioDescriptionNames:   audioDescriptionNames,
				CaptionDescriptionNames: []string{},
				OutputName:              aws.String(outputName),
				OutputSettings: &types.OutputSettings{
					HlsOutputSettings: &types.HlsOutputSettings{
						H265PackagingType: types.HlsH265PackagingTypeHvc1,
						HlsSettings: &types.HlsSettings{
							StandardHlsSettings: &types.StandardHlsSettings{
								AudioRenditionSets: aws.String("program_audio"),
								M3u8Settings: &types.M3u8Settings{
									AudioFramesPerPes:     aws.Int32(4),
									AudioPids:             aws.String("492-498"),
									NielsenId3Behavior:    types.M3u8NielsenId3BehaviorNoPassthrough,
									PcrControl:            types.M3u8PcrControlPcrEveryPesPacket,
									PmtPid:                aws.String("480"),
									ProgramNum:            aws.Int32(1),
									Scte35Behavior:        types.M3u8Scte35BehaviorNoPassthrough,
									Scte35Pid:             aws.String("500"),
									TimedMetadataBehavior: types.M3u8TimedMetadataBehaviorNoPassthrough,
									TimedMetadataPid:      aws.String("502"),
									VideoPid:              aws.String("481"),
								},
							},
						},
						NameModifier: aws.String("_1"),
					},
				},
				VideoDescriptionName: aws.String(videoDescriptionName),
			},
		},
	}
}

// replayVideoDescription builds the fixed H264 description referenced by the
// replay output group. It is appended once and never updated afterwards.
func replayVideoDescription() types.VideoDescription {
	return types.VideoDescription{
		CodecSettings: &types.VideoCodecSettings{
			H264Settings: &types.H264Settings{
				AdaptiveQuantization: types.H264AdaptiveQuantizationAuto,
				AfdSignaling:         types.AfdSignalingNone,
				Bitrate:              aws.Int32(5000000),
				BufSize:              aws.Int32(5000000),
				ColorMetadata:        types.H264ColorMetadataInsert,
				EntropyEncoding:      types.H264EntropyEncodingCabac,
				FlickerAq:            types.H264FlickerAqEnabled,
				ForceFieldPictures:   types.H264ForceFieldPicturesDisabled,
				FramerateControl:     types.H264FramerateControlInitializeFromSource,
				GopBReference:        types.H264GopBReferenceDisabled,
				GopClosedCadence:     aws.Int32(1),
				GopNumBFrames:        aws.Int32(2),
				GopSize:              aws.Float64(1),
				GopSizeUnits:         types.H264GopSizeUnitsSeconds,
				Level:                types.H264LevelH264LevelAuto,
				LookAheadRateControl: types.H264LookAheadRateControlMedium,
				MaxBitrate:           aws.Int32(5000000),
				NumRefFrames:         aws.Int32(1),
				ParControl:           types.H264ParControlInitializeFromSource,
				Profile:              types.H264ProfileHigh,
				QvbrQualityLevel:     aws.Int32(8),
				RateControlMode:      types.H264RateControlModeQvbr,
				ScanType:             types.H264ScanTypeProgressive,
				SceneChangeDetect:    types.H264SceneChangeDetectDisabled,
				SpatialAq:            types.H264SpatialAqEnabled,
				SubgopLength:         types.H264SubGopLengthFixed,
				Syntax:               types.H264SyntaxDefault,
				TemporalAq:           types.H264TemporalAqEnabled,
				TimecodeInsertion:    types.H264TimecodeInsertionBehaviorDisabled,
			},
		},
		Name:            aws.String(videoDescriptionName),
		RespondToAfd:    types.VideoDescriptionRespondToAfdNone,
		ScalingBehavior: types.VideoDescriptionScalingBehaviorDefault,
		Sharpness:       aws.Int32(50),
	}
}

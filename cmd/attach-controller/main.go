// Command attach-controller exposes the replay attach API for MediaLive
// channels and enforces bearer auth.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscw "github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	awsddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsml "github.com/aws/aws-sdk-go-v2/service/medialive"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ctvTechLeadSeven/clipping-engine/internal/medialive"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/monitor"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/notify"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/observability/logging"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/observability/metrics"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/profiles"
	"github.com/ctvTechLeadSeven/clipping-engine/internal/serverutil"
)

const defaultBind = ":8085"

type channelAttacher interface {
	Attach(ctx context.Context, target medialive.Target, chunkSeconds int32) (*awsml.DescribeChannelOutput, error)
	Detach(ctx context.Context, target medialive.Target) error
}

type alarmManager interface {
	EnsureChannelAlarm(ctx context.Context, channelID string) error
	DeleteChannelAlarm(ctx context.Context, channelID string) error
}

type deletionNotifier interface {
	EventDeleted(ctx context.Context, program, event, profile string) error
}

type profileReader interface {
	ChunkSize(ctx context.Context, name string) (int32, error)
}

type controller struct {
	token    string
	attacher channelAttacher
	alarms   alarmManager
	notifier deletionNotifier
	profiles profileReader
	recorder *metrics.Recorder
	logger   *slog.Logger
}

func main() {
	bind := envOrDefault("CLIPPING_BIND", defaultBind)
	logger := logging.WithComponent(logging.Init(logging.Config{
		Level:  os.Getenv("CLIPPING_LOG_LEVEL"),
		Format: string(logging.FormatJSON),
	}), "attach-controller")
	recorder := metrics.New()

	token := strings.TrimSpace(os.Getenv("CLIPPING_API_TOKEN"))
	if token == "" {
		logger.Error("CLIPPING_API_TOKEN must be set")
		os.Exit(1)
	}
	bucket := strings.TrimSpace(os.Getenv("CLIPPING_MEDIA_SOURCE_BUCKET"))
	if bucket == "" {
		logger.Error("CLIPPING_MEDIA_SOURCE_BUCKET must be set")
		os.Exit(1)
	}
	profileTable := strings.TrimSpace(os.Getenv("CLIPPING_PROFILE_TABLE"))
	if profileTable == "" {
		logger.Error("CLIPPING_PROFILE_TABLE must be set")
		os.Exit(1)
	}
	queueURL := strings.TrimSpace(os.Getenv("CLIPPING_DELETION_QUEUE_URL"))
	if queueURL == "" {
		logger.Error("CLIPPING_DELETION_QUEUE_URL must be set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("load aws config", "error", err)
		os.Exit(1)
	}

	attacher, err := medialive.NewAttacher(medialive.AttacherConfig{
		Client:            awsml.NewFromConfig(awsCfg),
		MediaSourceBucket: bucket,
		Logger:            logging.WithComponent(logger, "medialive"),
	})
	if err != nil {
		logger.Error("build attacher", "error", err)
		os.Exit(1)
	}
	alarms, err := monitor.NewAlarmManager(awscw.NewFromConfig(awsCfg), logging.WithComponent(logger, "monitor"))
	if err != nil {
		logger.Error("build alarm manager", "error", err)
		os.Exit(1)
	}
	notifier, err := notify.NewQueueNotifier(awssqs.NewFromConfig(awsCfg), queueURL, logging.WithComponent(logger, "notify"))
	if err != nil {
		logger.Error("build deletion notifier", "error", err)
		os.Exit(1)
	}
	store, err := profiles.NewStore(awsddb.NewFromConfig(awsCfg), profileTable, logging.WithComponent(logger, "profiles"))
	if err != nil {
		logger.Error("build profile store", "error", err)
		os.Exit(1)
	}

	ctrl := &controller{
		token:    token,
		attacher: attacher,
		alarms:   alarms,
		notifier: notifier,
		profiles: store,
		recorder: recorder,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", ctrl.healthz)
	mux.Handle("/v1/channels/", http.HandlerFunc(ctrl.channelRequest))

	handler := http.Handler(mux)
	handler = metrics.HTTPMiddleware(recorder, handler)
	handler = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handler)

	server := &http.Server{
		Addr:              bind,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("attach controller listening", "bind", bind)
	if err := serverutil.Run(ctx, serverutil.Config{Server: server, ShutdownTimeout: 10 * time.Second}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("attach controller stopped")
}

type attachRequest struct {
	Event   string `json:"event"`
	Program string `json:"program"`
	Profile string `json:"profile"`
}

func (c *controller) channelRequest(w http.ResponseWriter, r *http.Request) {
	if !c.authorized(r.Header.Get("Authorization")) {
		c.logger.Warn("unauthorized request rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	channelID, ok := replayChannelID(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx := logging.ContextWithChannelID(r.Context(), channelID)

	switch r.Method {
	case http.MethodPut:
		c.attach(ctx, w, r, channelID)
	case http.MethodDelete:
		c.detach(ctx, w, r, channelID)
	default:
		w.Header().Set("Allow", "PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *controller) attach(ctx context.Context, w http.ResponseWriter, r *http.Request, channelID string) {
	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	target := medialive.Target{
		ChannelID: channelID,
		Event:     strings.TrimSpace(req.Event),
		Program:   strings.TrimSpace(req.Program),
		Profile:   strings.TrimSpace(req.Profile),
	}
	if err := target.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.recorder.ObserveAttachAttempt("attach")
	chunkSize, err := c.profiles.ChunkSize(ctx, target.Profile)
	if err != nil {
		c.recorder.ObserveAttachFailure("attach")
		if errors.Is(err, profiles.ErrProfileNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		c.logger.Error("profile lookup failed", "profile", target.Profile, "error", err)
		http.Error(w, "profile lookup failed", http.StatusBadGateway)
		return
	}

	snapshot, err := c.attacher.Attach(ctx, target, chunkSize)
	if err != nil {
		c.recorder.ObserveAttachFailure("attach")
		c.writeAttachError(w, err, channelID)
		return
	}

	if err := c.alarms.EnsureChannelAlarm(ctx, channelID); err != nil {
		c.recorder.ObserveAlarmOperation("create_failed")
		c.logger.Error("create channel alarm", "channel_id", channelID, "error", err)
		http.Error(w, "failed to create channel alarm", http.StatusBadGateway)
		return
	}
	c.recorder.ObserveAlarmOperation("create")
	c.recorder.ChannelAttached()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		c.logger.Warn("encode attach response", "error", err)
	}
}

func (c *controller) detach(ctx context.Context, w http.ResponseWriter, r *http.Request, channelID string) {
	query := r.URL.Query()
	target := medialive.Target{
		ChannelID: channelID,
		Event:     strings.TrimSpace(query.Get("event")),
		Program:   strings.TrimSpace(query.Get("program")),
		Profile:   strings.TrimSpace(query.Get("profile")),
	}
	if err := target.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.recorder.ObserveAttachAttempt("detach")
	if err := c.attacher.Detach(ctx, target); err != nil {
		c.recorder.ObserveAttachFailure("detach")
		c.writeAttachError(w, err, channelID)
		return
	}

	if err := c.alarms.DeleteChannelAlarm(ctx, channelID); err != nil {
		c.recorder.ObserveAlarmOperation("delete_failed")
		c.logger.Error("delete channel alarm", "channel_id", channelID, "error", err)
		http.Error(w, "failed to delete channel alarm", http.StatusBadGateway)
		return
	}
	c.recorder.ObserveAlarmOperation("delete")

	if err := c.notifier.EventDeleted(ctx, target.Program, target.Event, target.Profile); err != nil {
		c.recorder.ObserveNotification("failed")
		c.logger.Error("send deletion notification", "channel_id", channelID, "error", err)
		http.Error(w, "failed to send deletion notification", http.StatusBadGateway)
		return
	}
	c.recorder.ObserveNotification("sent")
	c.recorder.ChannelDetached()

	w.WriteHeader(http.StatusNoContent)
}

func (c *controller) writeAttachError(w http.ResponseWriter, err error, channelID string) {
	switch {
	case errors.Is(err, medialive.ErrChannelNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, medialive.ErrChannelNotIdle):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		c.logger.Error("channel update failed", "channel_id", channelID, "error", err)
		http.Error(w, "channel update failed", http.StatusBadGateway)
	}
}

func (c *controller) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"status":           "ok",
		"attachedChannels": c.recorder.AttachedChannels(),
	}
	buf, _ := json.Marshal(payload)
	_, _ = w.Write(buf)
}

func (c *controller) authorized(header string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.token)) == 1
}

// replayChannelID extracts the channel ID from /v1/channels/{id}/replay.
func replayChannelID(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/v1/channels/")
	if !ok {
		return "", false
	}
	channelID, ok := strings.CutSuffix(rest, "/replay")
	if !ok || channelID == "" || strings.Contains(channelID, "/") {
		return "", false
	}
	return channelID, true
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// Package worker provides a NATS worker that synthesizes the text of
// processed pages.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/book-expert/openvoice-api/internal/metrics"
	"github.com/book-expert/openvoice-api/internal/request"
	"github.com/book-expert/openvoice-api/internal/voice"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultJobTimeout = 30 * time.Second

var (
	// ErrSubjectEmpty indicates that the subject is empty.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrTextKeyEmpty indicates that an event carries no text key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrTextEmpty indicates that the stored text is blank.
	ErrTextEmpty = errors.New("text cannot be empty")
)

// Synthesizer turns validated generate-audio parameters into audio.
type Synthesizer interface {
	Generate(ctx context.Context, version string, params request.Params) (*voice.Result, error)
}

// Options configures the synthesis of worker jobs.
type Options struct {
	// Version and Model select the model used for every job.
	Version string
	Model   string
	// JobTimeout bounds a whole job; zero uses 30 seconds.
	JobTimeout time.Duration
	Metrics    *metrics.Collector
}

// NatsWorker listens for TextProcessedEvents on a NATS subject and replies
// with an AudioChunkCreatedEvent once the audio is uploaded.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	synthesizer    Synthesizer
	opts           Options
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	synthesizer Synthesizer,
	log *logger.Logger,
	opts Options,
) (*NatsWorker, error) {
	if strings.TrimSpace(subject) == "" {
		return nil, ErrSubjectEmpty
	}

	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		synthesizer:    synthesizer,
		opts:           opts,
		log:            log,
	}, nil
}

// Run starts the worker and blocks until ctx is done.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Worker listening on %s (model %s %s)", w.subject, w.opts.Version, w.opts.Model)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.JobTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.opts.Metrics.ObserveJob(err)
		w.log.Error("Failed to parse event: %v", err)

		return
	}

	audioKey, err := w.processJob(ctx, event)
	w.opts.Metrics.ObserveJob(err)

	if err != nil {
		w.log.Error("Failed to synthesize page %d of workflow %s: %v", event.PageNumber, event.Header.WorkflowID, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the text, synthesizes it and uploads the audio.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.store.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	input := strings.TrimSpace(string(textData))
	if input == "" {
		return "", fmt.Errorf("%w: key '%s'", ErrTextEmpty, event.TextKey)
	}

	speaker := strings.TrimSpace(event.Voice)
	if speaker == "" {
		speaker = request.VoiceRaw
	}

	result, err := w.synthesizer.Generate(ctx, w.opts.Version, request.Params{
		request.ParamModel:          w.opts.Model,
		request.ParamInput:          input,
		request.ParamVoice:          speaker,
		request.ParamResponseFormat: string(request.FormatBytes),
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text of key '%s': %w", event.TextKey, err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, nil
}

func publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if event.TextKey == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}

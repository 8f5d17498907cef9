// Package worker_test tests the NATS worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/openvoice-api/internal/artifact"
	"github.com/book-expert/openvoice-api/internal/core"
	"github.com/book-expert/openvoice-api/internal/engine/enginetest"
	"github.com/book-expert/openvoice-api/internal/objectstore"
	"github.com/book-expert/openvoice-api/internal/registry/registrytest"
	"github.com/book-expert/openvoice-api/internal/voice"
	"github.com/book-expert/openvoice-api/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "test_subject"

var errMockDownload = errors.New("mock download error")

// mockObjectStore is an in-memory core.ObjectStore.
type mockObjectStore struct {
	mu                 sync.Mutex
	objects            map[string][]byte
	downloadShouldFail bool
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	return m.objects[key], nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.objects)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsConnection
}

func newService(t *testing.T) (*voice.Service, *enginetest.Fake) {
	t.Helper()

	cfg := registrytest.Config(t)
	engine := enginetest.NewFake()
	reg := registrytest.Load(t, cfg, engine)
	log := registrytest.Logger(t)

	store, err := artifact.NewStore(cfg.Paths.AudioFilesDir, nil, log)
	require.NoError(t, err)

	return voice.NewService(engine, reg, store, log, voice.Options{}), engine
}

// startWorker runs a worker until the test ends.
func startWorker(t *testing.T, natsConnection *nats.Conn, store core.ObjectStore, service *voice.Service) {
	t.Helper()

	workerInstance, err := worker.NewNatsWorker(natsConnection, testSubject, store, service, registrytest.Logger(t), worker.Options{
		Version:    core.VersionV2,
		Model:      "en",
		JobTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Make sure the subscription is registered before requests are sent.
	require.Eventually(t, func() bool {
		return natsConnection.NumSubscriptions() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func textEvent(textKey, voiceName string) *events.TextProcessedEvent {
	return &events.TextProcessedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		TextKey:    textKey,
		PageNumber: 3,
		TotalPages: 10,
		Voice:      voiceName,
	}
}

func sendEvent(t *testing.T, natsConnection *nats.Conn, event *events.TextProcessedEvent, timeout time.Duration) (*nats.Msg, error) {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	return natsConnection.Request(testSubject, eventData, timeout)
}

func TestNewNatsWorker_EmptySubject(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, " ", nil, nil, registrytest.Logger(t), worker.Options{})
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	service, engine := newService(t)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	store, err := objectstore.New(context.Background(), js, "worker-test", 0)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), "page-3.txt", []byte("  Chapter one.  ")))

	startWorker(t, natsConnection, store, service)

	testEvent := textEvent("page-3.txt", "Elon")

	replyMsg, err := sendEvent(t, natsConnection, testEvent, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var replyEvent events.AudioChunkCreatedEvent
	require.NoError(t, json.Unmarshal(replyMsg.Data, &replyEvent))

	assert.Equal(t, testEvent.Header.WorkflowID, replyEvent.Header.WorkflowID)
	assert.Equal(t, testEvent.PageNumber, replyEvent.PageNumber)
	assert.Equal(t, testEvent.TotalPages, replyEvent.TotalPages)
	assert.Regexp(t, `^[0-9a-f-]{36}\.wav$`, replyEvent.AudioKey)

	audioData, err := store.Download(context.Background(), replyEvent.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, engine.Audio, audioData)

	syntheses := engine.SynthesisCalls()
	require.Len(t, syntheses, 1)
	assert.Equal(t, "Chapter one.", syntheses[0].Text)
	assert.Equal(t, core.VersionV2, syntheses[0].Version)
	assert.Len(t, engine.ConversionCalls(), 1)
}

func TestMessageHandler_RawVoiceByDefault(t *testing.T) {
	t.Parallel()

	natsConnection := createTestNatsClient(t)
	service, engine := newService(t)
	store := &mockObjectStore{objects: map[string][]byte{"text": []byte("Hello")}}

	startWorker(t, natsConnection, store, service)

	_, err := sendEvent(t, natsConnection, textEvent("text", ""), 5*time.Second)
	require.NoError(t, err)

	assert.Len(t, engine.SynthesisCalls(), 1)
	assert.Empty(t, engine.ConversionCalls())
}

func TestMessageHandler_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		store  *mockObjectStore
		event  *events.TextProcessedEvent
		mutate func(engine *enginetest.Fake)
	}{
		{
			name:  "download failure",
			store: &mockObjectStore{objects: map[string][]byte{}, downloadShouldFail: true},
			event: textEvent("text", ""),
		},
		{
			name:  "empty text",
			store: &mockObjectStore{objects: map[string][]byte{"text": []byte(" \n ")}},
			event: textEvent("text", ""),
		},
		{
			name:  "missing text key",
			store: &mockObjectStore{objects: map[string][]byte{}},
			event: textEvent("", ""),
		},
		{
			name:  "unknown voice",
			store: &mockObjectStore{objects: map[string][]byte{"text": []byte("Hello")}},
			event: textEvent("text", "nobody"),
		},
		{
			name:   "engine failure",
			store:  &mockObjectStore{objects: map[string][]byte{"text": []byte("Hello")}},
			event:  textEvent("text", ""),
			mutate: func(engine *enginetest.Fake) { engine.FailSynthesize = true },
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			natsConnection := createTestNatsClient(t)
			service, engine := newService(t)

			if testCase.mutate != nil {
				engine.Update(testCase.mutate)
			}

			startWorker(t, natsConnection, testCase.store, service)

			before := testCase.store.count()

			_, err := sendEvent(t, natsConnection, testCase.event, 500*time.Millisecond)
			require.ErrorIs(t, err, nats.ErrTimeout, "a failed job is not answered")
			assert.Equal(t, before, testCase.store.count(), "no audio is uploaded")
		})
	}
}

// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/openvoice-api/internal/engine/enginetest"
	"github.com/book-expert/openvoice-api/internal/objectstore"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startJetStream starts an in-memory NATS server and returns a JetStream handle.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	return js
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "test-bucket", 0)
	require.NoError(t, err)

	uploadData := []byte("hello world, this is a test")
	require.NoError(t, store.Upload(ctx, "my-test-object", uploadData))

	downloadData, err := store.Download(ctx, "my-test-object")
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	contentType, err := store.ContentType(ctx, "my-test-object")
	require.NoError(t, err)
	assert.Equal(t, "text/plain; charset=utf-8", contentType)
}

func TestNatsObjectStore_WAVContentType(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "audio", time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Upload(ctx, "clip.wav", enginetest.WAV(160)))

	contentType, err := store.ContentType(ctx, "clip.wav")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", contentType)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	first, err := objectstore.New(ctx, js, "shared", 0)
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "key", []byte("value")))

	second, err := objectstore.New(ctx, js, "shared", time.Minute)
	require.NoError(t, err)

	data, err := second.Download(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)
}

func TestNatsObjectStore_DeleteAndNotFound(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "deletions", 0)
	require.NoError(t, err)

	_, err = store.Download(ctx, "missing")
	require.ErrorIs(t, err, objectstore.ErrNotFound)

	require.NoError(t, store.Upload(ctx, "gone", []byte("soon")))
	require.NoError(t, store.Delete(ctx, "gone"))
	require.NoError(t, store.Delete(ctx, "gone"))

	_, err = store.Download(ctx, "gone")
	require.ErrorIs(t, err, objectstore.ErrNotFound)
}

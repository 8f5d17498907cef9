package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/openvoice-api/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_Fail(t *testing.T) {
	t.Parallel()

	before := time.Now().UnixMilli()
	recorder := httptest.NewRecorder()

	response.Write(recorder, response.Fail(http.StatusBadRequest, "Parameter 'model' is required"))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))

	result, ok := decoded["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, result["success"])
	assert.Equal(t, "Parameter 'model' is required", result["message"])
	assert.Equal(t, map[string]any{}, result["data"])
	assert.EqualValues(t, http.StatusBadRequest, decoded["code"])
	assert.GreaterOrEqual(t, int64(decoded["time"].(float64)), before)
}

func TestOK(t *testing.T) {
	t.Parallel()

	payload := response.OK(response.MessageGenerated, map[string]any{"url": "http://host/audio-file/a.wav"})

	assert.True(t, payload.Result.Success)
	assert.Equal(t, http.StatusOK, payload.Code)
	assert.Equal(t, "http://host/audio-file/a.wav", payload.Result.Data["url"])
}

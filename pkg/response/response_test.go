package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callhub-backend/pkg/errors"
	"callhub-backend/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.InitDefault()
}

func render(t *testing.T, err error) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("request_id", "req-1")

	FromError(c, err)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestFromErrorKeepsAppErrorStatus(t *testing.T) {
	w, body := render(t, fmt.Errorf("failed to resolve link: %w", errors.ExpiredError("Link")))

	assert.Equal(t, http.StatusGone, w.Code)
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "EXPIRED", body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)
}

func TestFromErrorMasksUnknownErrors(t *testing.T) {
	w, body := render(t, fmt.Errorf("pq: relation does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "relation")
}

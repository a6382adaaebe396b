package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedStats struct{ sessions, rooms int }

func (f fixedStats) SessionCount() int { return f.sessions }
func (f fixedStats) RoomCount() int    { return f.rooms }

func TestHandleHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleHealth(fixedStats{sessions: 3, rooms: 2}, time.Now().Add(-time.Minute))(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, 3, resp.Sessions)
	require.Equal(t, 2, resp.Rooms)
	require.Positive(t, resp.Goroutines)
	require.Equal(t, "1m0s", resp.Uptime)
}

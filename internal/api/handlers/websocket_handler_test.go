package handlers

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/query"
)

// brokenAgent produces a spec the executor rejects, on every attempt.
type brokenAgent struct{}

func (brokenAgent) GenerateSpec(ctx context.Context, q string, snap *dataset.Snapshot, hints []string) (analysis.QuerySpec, string, error) {
	return analysis.QuerySpec{
		Filters: map[string][]string{"Region": {"North"}},
	}, `{"filters":{"Region":["North"]}}`, nil
}

func (brokenAgent) RegenerateSpec(ctx context.Context, q string, snap *dataset.Snapshot, failedSpec, execError string) (analysis.QuerySpec, string, error) {
	return analysis.QuerySpec{
		Filters: map[string][]string{"Region": {"North"}},
	}, `{"filters":{"Region":["North"]}}`, nil
}

func (brokenAgent) SummarizeInsights(ctx context.Context, q string, table *analysis.Table) (string, error) {
	return "", nil
}

// dialWS mounts the WebSocket route on a real listener and dials it.
func dialWS(t *testing.T, a query.SpecAgent) *fws.Conn {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	summaryPath := filepath.Join(dir, "summary.json")
	mappingPath := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))
	require.NoError(t, os.WriteFile(summaryPath, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(mappingPath, []byte(`{}`), 0o644))

	store := dataset.NewStore(csvPath, summaryPath, mappingPath)
	require.NoError(t, store.Load())

	engine := query.NewEngine(a, store, nil, nil, 1)
	handler := NewWSHandler(engine)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use("/ws/:client_id", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:client_id", websocket.New(handler.Serve))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })

	url := "ws://" + ln.Addr().String() + "/ws/test-client"
	var conn *fws.Conn
	require.Eventually(t, func() bool {
		c, resp, err := fws.DefaultDialer.Dial(url, nil)
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 5*time.Second, 50*time.Millisecond)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	return conn
}

func readFrame(t *testing.T, conn *fws.Conn) wsOutgoing {
	t.Helper()
	var out wsOutgoing
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func TestWebSocketPing(t *testing.T) {
	conn := dialWS(t, stubAgent{})

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "ping"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame.Type)
	assert.NotEmpty(t, frame.Timestamp)
}

func TestWebSocketQueryResult(t *testing.T) {
	conn := dialWS(t, stubAgent{})

	require.NoError(t, conn.WriteJSON(wsIncoming{
		Type:  "query",
		Query: "how is brand power?",
	}))

	var statuses []string
	var result wsOutgoing
	for {
		frame := readFrame(t, conn)
		if frame.Type == "status" {
			statuses = append(statuses, frame.Message)
			continue
		}
		result = frame
		break
	}

	require.Equal(t, "result", result.Type)
	assert.Equal(t, "Beta leads.", result.Insights)
	assert.Contains(t, result.DataOutput, "Beta")
	assert.Equal(t, `{"group_by":["Brand"]}`, result.GeneratedCode)
	assert.Equal(t, "how is brand power?", result.Query)
	assert.NotEmpty(t, result.Timestamp)

	// Progress frames stream before the result.
	assert.Contains(t, statuses, "Generating analysis spec...")
	assert.Contains(t, statuses, "Executing analysis...")
}

func TestWebSocketQueryErrorFrame(t *testing.T) {
	conn := dialWS(t, brokenAgent{})

	require.NoError(t, conn.WriteJSON(wsIncoming{
		Type:  "query",
		Query: "power by region",
	}))

	var frame wsOutgoing
	for {
		frame = readFrame(t, conn)
		if frame.Type != "status" {
			break
		}
	}

	require.Equal(t, "error", frame.Type)
	assert.Contains(t, frame.Message, "unknown column")
	assert.Equal(t, `{"filters":{"Region":["North"]}}`, frame.GeneratedCode)
	assert.Equal(t, "power by region", frame.Query)
}

func TestWebSocketEmptyQuery(t *testing.T) {
	conn := dialWS(t, stubAgent{})

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "query", Query: "   "}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Contains(t, frame.Message, "non-empty")
}

func TestWebSocketUnknownMessageType(t *testing.T) {
	conn := dialWS(t, stubAgent{})

	require.NoError(t, conn.WriteJSON(wsIncoming{Type: "subscribe"}))

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Contains(t, frame.Message, "unknown message type")
}

package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, content string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		msg, _ := json.Marshal(content)
		fmt.Fprintf(w, `{"model":"test","message":{"role":"assistant","content":%s},"done":true}`+"\n", msg)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestAnalyzeImage(t *testing.T) {
	srv, got := chatServer(t, "```json\n"+`{"primary":{"label":"dog","confidence":0.9,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4},"cx":0.25,"cy":0.4},"description":"a dog","tags":["dog",],}`+"\n```")
	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("fake image"))
	res, err := c.AnalyzeImage(context.Background(), "llava", "find it", img)
	require.NoError(t, err)
	assert.Equal(t, "dog", res.Primary.Label)
	assert.InDelta(t, 0.3, res.Primary.Box.W, 1e-9)
	assert.Equal(t, []string{"dog"}, res.Tags)

	assert.Equal(t, "llava", (*got)["model"])
	assert.Equal(t, false, (*got)["stream"])
	msgs := (*got)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "find it", msgs[0].(map[string]any)["content"])
	assert.Len(t, msgs[0].(map[string]any)["images"], 1)
}

func TestAnalyzeImageNonJSONFallsBack(t *testing.T) {
	srv, _ := chatServer(t, "I see a cat on a sofa.")
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	res, err := c.AnalyzeImage(context.Background(), "llava", "find it", "")
	require.NoError(t, err)
	assert.Equal(t, "unclear image", res.Primary.Label)
	assert.Contains(t, res.Tags, "fallback")
}

func TestAnalyzeImageEmpty(t *testing.T) {
	srv, _ := chatServer(t, "  ")
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.AnalyzeImage(context.Background(), "llava", "find it", "")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSimpleQuery(t *testing.T) {
	srv, _ := chatServer(t, "a red square")
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	out, err := c.SimpleQuery(context.Background(), "llava", "what is it?", "")
	require.NoError(t, err)
	assert.Equal(t, "a red square", out)
}

func TestSimpleQueryBadBase64(t *testing.T) {
	c, err := NewClient("http://localhost:1")
	require.NoError(t, err)
	_, err = c.SimpleQuery(context.Background(), "llava", "x", "***")
	assert.Error(t, err)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)
}

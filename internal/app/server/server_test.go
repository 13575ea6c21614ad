package server

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-outreach-engine/internal/campaign"
	"dm-outreach-engine/internal/config"
	"dm-outreach-engine/internal/delivery"
	"dm-outreach-engine/internal/dom"
	"dm-outreach-engine/internal/dom/htmlsurface"
	"dm-outreach-engine/internal/storage"
)

const profilePage = `<html><body>
<div role="button">Message</div>
<div role="dialog">
  <div contenteditable="true" role="textbox" data-lexical-editor="true"><p><br></p></div>
  <div role="button" aria-label="Send">Send</div>
</div>
</body></html>`

// MockBrowser serves a profile page per url; urls containing "broken" get a
// page without a composer.
type MockBrowser struct {
	mu   sync.Mutex
	docs map[string]*htmlsurface.Document
}

func (m *MockBrowser) Open(_ context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs == nil {
		m.docs = map[string]*htmlsurface.Document{}
	}
	page := profilePage
	if strings.Contains(url, "broken") {
		page = `<html><body><div role="button">Follow</div></body></html>`
	}
	m.docs[url] = htmlsurface.MustParse(page)
	return url, nil
}

func (m *MockBrowser) Surface(_ context.Context, tabID string) (dom.Surface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[tabID], nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestApp(t *testing.T) *App {
	t.Helper()
	d := delivery.New(rand.New(rand.NewSource(1)))
	d.Sleep = noSleep
	d.Injector.Sleep = noSleep

	b := &MockBrowser{}
	a, err := New(context.Background(), config.Defaults(), Deps{Tabs: b, Surfaces: b, Deliverer: d, Sleep: noSleep})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_BadConfig(t *testing.T) {
	b := &MockBrowser{}
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"storage driver", func(c *config.Config) { c.Storage.Driver = "redis" }},
		{"agent mode", func(c *config.Config) { c.Agent.Mode = "carrier-pigeon" }},
		{"remote without url", func(c *config.Config) { c.Agent.Mode = "remote" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, Deps{Tabs: b, Surfaces: b})
			assert.Error(t, err)
		})
	}
}

func TestApp_CampaignOverHTTP(t *testing.T) {
	a := newTestApp(t)
	ts := httptest.NewServer(a.Router())
	defer ts.Close()

	form := `{"profileLinks":"https://www.instagram.com/alice/\nhttps://www.instagram.com/broken/\nhttps://www.instagram.com/bob/","messageTemplate":"{Hi|Hey} there","delayMin":"0","delayMax":"0"}`
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/v1/form", strings.NewReader(form))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/v1/messages", "application/json", strings.NewReader(`{"type":"START_TASK"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Runner.Wait(ctx))

	resp, err = http.Get(ts.URL + "/v1/campaign")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status struct {
		campaign.Snapshot
		Links string `json:"links"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))

	assert.False(t, status.Running)
	assert.Equal(t, "3/5", status.Links)
	require.Len(t, status.Outcomes, 3)
	assert.True(t, status.Outcomes[0].Success)
	assert.False(t, status.Outcomes[1].Success)
	assert.Equal(t, `"Message" button not found`, status.Outcomes[1].Error)
	assert.True(t, status.Outcomes[2].Success)
	assert.Equal(t, 2, status.Succeeded)

	running, err := storage.Flags{KV: a.KV}.Running(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestApp_MemoryWritesRefreshForm(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, storage.SaveForm(context.Background(), a.KV, storage.Form{MessageTemplate: "hello"}))
	assert.Equal(t, "hello", a.Handler.Form().MessageTemplate)
}

func TestApp_Follow(t *testing.T) {
	a := newTestApp(t)
	var lines []string
	cfg := campaign.Config{Targets: []string{"https://www.instagram.com/alice/"}, Message: "hi"}

	err := a.Follow(context.Background(), cfg, make(chan os.Signal), func(s string) { lines = append(lines, s) })
	require.NoError(t, err)

	assert.Contains(t, lines, "[info] Processing (1/1): @alice")
	assert.Contains(t, lines, "[success] Sent: @alice")
	assert.Contains(t, lines, "[success] Campaign complete: 1/1 sent")
}

func TestApp_FollowInvalidConfig(t *testing.T) {
	a := newTestApp(t)
	err := a.Follow(context.Background(), campaign.Config{}, make(chan os.Signal), func(string) {})
	assert.ErrorIs(t, err, campaign.ErrNoTargets)
}

func TestApp_FollowStop(t *testing.T) {
	a := newTestApp(t)
	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	cfg := campaign.Config{Targets: []string{"https://www.instagram.com/a/", "https://www.instagram.com/b/"}, Message: "hi", DelayMin: time.Hour, DelayMax: time.Hour}
	require.NoError(t, a.Follow(context.Background(), cfg, stop, func(string) {}))
	assert.False(t, a.Runner.Running())
}

package netflix

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/streamline/gateway/internal/types"
)

type fakeClient struct {
	resp *http.Response
	err  error
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	return f.resp, f.err
}

func newFakeResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func TestFetchDelta_ParsesItemsFromChangeFeed(t *testing.T) {
	body := `{"items": [{"id": "n1", "title": "Stranger Things", "genres": ["Sci-Fi & Fantasy"]}]}`
	client := &fakeClient{resp: newFakeResponse(http.StatusOK, body)}
	a := New("https://api.netflix.example", client)

	items, err := a.FetchDelta(context.Background(), time.Now(), "US")
	if err != nil {
		t.Fatalf("FetchDelta: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 raw item, got %d", len(items))
	}
	if items[0].PlatformID != "netflix" {
		t.Fatalf("unexpected platform id: %q", items[0].PlatformID)
	}
}

func TestFetchDelta_NonOKStatusIsError(t *testing.T) {
	client := &fakeClient{resp: newFakeResponse(http.StatusInternalServerError, "")}
	a := New("https://api.netflix.example", client)

	if _, err := a.FetchDelta(context.Background(), time.Now(), "US"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestNormalize_MapsNetflixGenreTaxonomy(t *testing.T) {
	a := New("https://api.netflix.example", &fakeClient{})
	raw := []byte(`{"id": "n1", "title": "Example", "genres": ["Sci-Fi & Fantasy"]}`)

	c, err := a.Normalize(context.Background(), types.RawItem{Payload: raw})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(c.Genres) != 1 || c.Genres[0] != "science_fiction" {
		t.Fatalf("expected mapped genre science_fiction, got %v", c.Genres)
	}
}

func TestGenerateDeepLink_UsesNetflixTemplate(t *testing.T) {
	a := New("https://api.netflix.example", &fakeClient{})
	links, err := a.GenerateDeepLink(context.Background(), "81234567")
	if err != nil {
		t.Fatalf("GenerateDeepLink: %v", err)
	}
	if links.Web != "https://www.netflix.com/watch/81234567" {
		t.Fatalf("unexpected web link: %q", links.Web)
	}
}

package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franz/radio-monitor/internal/util"
)

const stationPage = `<html><body>
<ul class="recently-played">
  <li><a href="/artist/taylor-swift-123/songs/love-story-456/">Love Story</a>
      <a href="/artist/taylor-swift-123/">Taylor Swift</a></li>
  <li><a href="/artist/megan-moroney-35764910/songs/tennessee-orange-1/">Tennessee   Orange</a></li>
  <li><a href="/artist/taylor-swift-123/songs/love-story-456/">Love Story</a>
      <a href="/artist/taylor-swift-123/">Taylor Swift</a></li>
  <li><a href="/artist/acme-1/songs/privacy-2/">Privacy Policy</a>
      <a href="/artist/acme-1/">Acme Radio</a></li>
  <li><a href="/artist/x-1/songs/hello-2/">Hello There</a>
      <a href="/artist/x-1/">2024</a></li>
  <li><a href="/artist/y-1/songs/a-2/">Hi</a><a href="/artist/y-1/">Somebody</a></li>
</ul>
<footer><a href="/podcasts/">Podcasts</a></footer>
</body></html>`

func page(songs ...[2]string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i, s := range songs {
		fmt.Fprintf(&b, `<li><a href="/artist/a-%d/songs/s-%d/">%s</a><a href="/artist/a-%d/">%s</a></li>`, i, i, s[1], i, s[0])
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}

func testScraper(srv *httptest.Server, attempts int) *IHeart {
	s := NewIHeart(&CancelFlag{})
	s.Client = srv.Client()
	s.MaxAttempts = attempts
	s.Waits = []time.Duration{time.Millisecond}
	return s
}

func TestIHeartExtractsSongs(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		fmt.Fprint(w, stationPage)
	}))
	defer srv.Close()

	triples, err := testScraper(srv, 1).Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []Triple{
		{Artist: "Taylor Swift", Title: "Love Story"},
		{Artist: "Megan Moroney", Title: "Tennessee Orange"},
	}, triples)
	assert.Contains(t, ua.Load(), "Chrome/120")
}

func TestIHeartRetriesSparsePages(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, page([2]string{"Adele", "Hello"}))
			return
		}
		fmt.Fprint(w, page([2]string{"Adele", "Hello"}, [2]string{"Muse", "Uprising"}))
	}))
	defer srv.Close()

	triples, err := testScraper(srv, 7).Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
	require.NoError(t, err)
	assert.Len(t, triples, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestIHeartReturnsPartialResultAfterLastAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, page([2]string{"Adele", "Hello"}))
	}))
	defer srv.Close()

	triples, err := testScraper(srv, 3).Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []Triple{{Artist: "Adele", Title: "Hello"}}, triples)
	assert.Equal(t, int32(3), hits.Load())
}

func TestIHeartServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	triples, err := testScraper(srv, 3).Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
	require.Error(t, err)
	assert.Nil(t, triples)
	assert.Equal(t, int32(3), hits.Load())

	var status *util.StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusBadGateway, status.StatusCode)
}

func TestIHeartClientErrorsAreTerminal(t *testing.T) {
	tests := []struct {
		status int
		hits   int32
	}{
		{http.StatusNotFound, 1},
		{http.StatusForbidden, 1},
		{http.StatusGone, 1},
		{http.StatusRequestTimeout, 3},
		{http.StatusTooManyRequests, 3},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testScraper(srv, 3).Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
			require.Error(t, err)
			assert.Equal(t, tt.hits, hits.Load())
		})
	}
	assert.True(t, isTerminalStatus(fmt.Errorf("wrapped: %w", &util.StatusError{StatusCode: 404})))
	assert.False(t, isTerminalStatus(&util.StatusError{StatusCode: 503}))
	assert.False(t, isTerminalStatus(errors.New("connection reset")))
}

func TestIHeartHonorsCancelFlag(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	s := testScraper(srv, 7)
	s.Cancel.Cancel()

	_, err := s.Scrape(context.Background(), Station{ID: "us99", URL: srv.URL})
	assert.True(t, errors.Is(err, util.ErrCancelled))
	assert.Zero(t, hits.Load())
}

func TestIHeartStopsWhenContextDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page())
	}))
	defer srv.Close()

	s := testScraper(srv, 7)
	s.Waits = []time.Duration{time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	triples, err := s.Scrape(ctx, Station{ID: "us99", URL: srv.URL})
	assert.Error(t, err)
	assert.Nil(t, triples)
}

func TestIHeartRequiresURL(t *testing.T) {
	_, err := NewIHeart(nil).Scrape(context.Background(), Station{ID: "us99"})
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestBackoffSchedule(t *testing.T) {
	s := NewIHeart(nil)
	var got []time.Duration
	for attempt := 1; attempt <= 6; attempt++ {
		got = append(got, s.backoff(attempt))
	}
	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second,
		20 * time.Second, 20 * time.Second, 20 * time.Second,
	}, got)
}

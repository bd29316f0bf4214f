package testsupport

import (
	"cmp"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cinesync/internal/config"
	"cinesync/internal/gateway"
	"cinesync/internal/tmdb"
)

// FakeTMDB is an in-memory provider serving the endpoints cinesync uses.
// Listings include adult titles regardless of include_adult so callers can
// verify their own filtering.
type FakeTMDB struct {
	Server   *httptest.Server
	PageSize int

	mu      sync.Mutex
	movies  map[int64]tmdb.Movie
	status  map[int64]int
	changes []FakeChange
	hits    map[string]int
	hook    func(r *http.Request)
}

// FakeChange is one changelog entry.
type FakeChange struct {
	ID    int64
	Date  string
	Adult bool
}

// NewFakeTMDB starts a fake provider and registers cleanup.
func NewFakeTMDB(t testing.TB) *FakeTMDB {
	t.Helper()
	fake := &FakeTMDB{
		PageSize: 20,
		movies:   make(map[int64]tmdb.Movie),
		status:   make(map[int64]int),
		hits:     make(map[string]int),
	}
	fake.Server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.Server.Close)
	return fake
}

// URL returns the base URL of the fake provider.
func (f *FakeTMDB) URL() string {
	return f.Server.URL
}

// AddMovies registers movie detail payloads.
func (f *FakeTMDB) AddMovies(movies ...tmdb.Movie) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range movies {
		f.movies[m.ID] = m
	}
}

// SetStatus forces the detail endpoint for id to answer with code.
func (f *FakeTMDB) SetStatus(id int64, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		delete(f.status, id)
		return
	}
	f.status[id] = code
}

// AddChanges appends changelog entries.
func (f *FakeTMDB) AddChanges(changes ...FakeChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, changes...)
}

// OnRequest installs a hook called before each request is served.
func (f *FakeTMDB) OnRequest(hook func(r *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
}

// Hits returns how many requests reached path.
func (f *FakeTMDB) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *FakeTMDB) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(r)
	}

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	switch {
	case r.URL.Path == "/movie/changes":
		f.serveChanges(w, q.Get("start_date"), q.Get("end_date"), page)
	case strings.HasPrefix(r.URL.Path, "/movie/"):
		id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/movie/"), 10, 64)
		if err != nil {
			writeError(w, http.StatusNotFound, "invalid id")
			return
		}
		f.serveMovie(w, id)
	case r.URL.Path == "/discover/movie":
		year, _ := strconv.Atoi(q.Get("primary_release_year"))
		f.serveDiscover(w, year, q.Get("primary_release_date.gte"), page)
	case r.URL.Path == "/search/movie":
		f.serveSearch(w, q.Get("query"), page)
	default:
		writeError(w, http.StatusNotFound, "unknown endpoint")
	}
}

func (f *FakeTMDB) serveMovie(w http.ResponseWriter, id int64) {
	f.mu.Lock()
	code, forced := f.status[id]
	movie, ok := f.movies[id]
	f.mu.Unlock()

	if forced {
		writeError(w, code, fmt.Sprintf("forced status %d", code))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "The resource you requested could not be found.")
		return
	}
	writeJSON(w, movie)
}

func (f *FakeTMDB) serveDiscover(w http.ResponseWriter, year int, gte string, page int) {
	f.mu.Lock()
	var matches []tmdb.Movie
	for _, m := range f.movies {
		if len(m.ReleaseDate) < 4 || m.ReleaseDate[:4] != strconv.Itoa(year) {
			continue
		}
		if gte != "" && m.ReleaseDate < gte {
			continue
		}
		matches = append(matches, m)
	}
	f.mu.Unlock()

	slices.SortFunc(matches, func(a, b tmdb.Movie) int {
		if c := cmp.Compare(a.ReleaseDate, b.ReleaseDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	writeJSON(w, f.listPage(matches, page))
}

func (f *FakeTMDB) serveSearch(w http.ResponseWriter, query string, page int) {
	needle := strings.ToLower(strings.TrimSpace(query))
	f.mu.Lock()
	var matches []tmdb.Movie
	for _, m := range f.movies {
		if strings.Contains(strings.ToLower(m.Title), needle) {
			matches = append(matches, m)
		}
	}
	f.mu.Unlock()
	slices.SortFunc(matches, func(a, b tmdb.Movie) int { return cmp.Compare(a.ID, b.ID) })
	writeJSON(w, f.listPage(matches, page))
}

func (f *FakeTMDB) serveChanges(w http.ResponseWriter, start, end string, page int) {
	f.mu.Lock()
	var matches []tmdb.ChangedEntry
	for _, c := range f.changes {
		if (start != "" && c.Date < start) || (end != "" && c.Date > end) {
			continue
		}
		adult := c.Adult
		matches = append(matches, tmdb.ChangedEntry{ID: c.ID, Adult: &adult})
	}
	f.mu.Unlock()

	from, to, total := f.window(len(matches), page)
	writeJSON(w, tmdb.ChangesPage{
		Page:         page,
		TotalPages:   total,
		TotalResults: len(matches),
		Results:      append([]tmdb.ChangedEntry{}, matches[from:to]...),
	})
}

func (f *FakeTMDB) listPage(movies []tmdb.Movie, page int) tmdb.ListPage {
	from, to, total := f.window(len(movies), page)
	results := make([]tmdb.Summary, 0, to-from)
	for _, m := range movies[from:to] {
		results = append(results, tmdb.Summary{
			ID:            m.ID,
			Title:         m.Title,
			OriginalTitle: m.OriginalTitle,
			ReleaseDate:   m.ReleaseDate,
			Overview:      m.Overview,
			Adult:         m.Adult,
			Popularity:    m.Popularity,
			VoteAverage:   m.VoteAverage,
			VoteCount:     m.VoteCount,
		})
	}
	return tmdb.ListPage{Page: page, TotalPages: total, TotalResults: len(movies), Results: results}
}

func (f *FakeTMDB) window(n, page int) (from, to, totalPages int) {
	size := f.PageSize
	if size <= 0 {
		size = 20
	}
	totalPages = (n + size - 1) / size
	from = min((page-1)*size, n)
	to = min(from+size, n)
	return from, to, totalPages
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":        false,
		"status_code":    code,
		"status_message": message,
	})
}

// NewClient builds a provider client for cfg without a response cache.
func NewClient(t testing.TB, cfg *config.Config) (*tmdb.Client, *gateway.Gateway) {
	t.Helper()
	gw, err := gateway.New(gateway.SettingsFromConfig(cfg))
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	client, err := tmdb.New(gw, cfg.TMDB.Language)
	if err != nil {
		t.Fatalf("tmdb.New: %v", err)
	}
	return client, gw
}

// Movie returns a minimal valid movie payload.
func Movie(id int64, title, releaseDate string) tmdb.Movie {
	return tmdb.Movie{
		ID:          id,
		Title:       title,
		ReleaseDate: releaseDate,
		Status:      "Released",
		Genres:      []tmdb.Genre{{ID: 18, Name: "Drama"}},
		Credits: tmdb.Credits{
			Cast: []tmdb.CastMember{{ID: id*10 + 1, Name: "Lead " + title, Character: "Lead", Order: 0}},
			Crew: []tmdb.CrewMember{{ID: id*10 + 2, Name: "Director " + title, Department: "Directing", Job: "Director"}},
		},
	}
}

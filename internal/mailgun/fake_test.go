package mailgun

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ignite/mailgun-dsr-connector/internal/config"
)

// fakeMailgun is an in-memory stand-in for the lists and members endpoints.
type fakeMailgun struct {
	t      *testing.T
	apiKey string

	mu       sync.Mutex
	members  map[string]map[string]bool // list -> identifier -> subscribed
	failList map[string]int             // list -> status to return on member calls
	calls    []string                   // "METHOD path"

	// pages handler, when set, serves /v3/lists/pages
	pages http.HandlerFunc
}

func newFakeMailgun(t *testing.T) *fakeMailgun {
	return &fakeMailgun{
		t:        t,
		apiKey:   "test-key",
		members:  make(map[string]map[string]bool),
		failList: make(map[string]int),
	}
}

func (f *fakeMailgun) addMember(list, identifier string, subscribed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[list] == nil {
		f.members[list] = make(map[string]bool)
	}
	f.members[list][identifier] = subscribed
}

func (f *fakeMailgun) hasMember(list, identifier string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[list][identifier]
	return ok
}

func (f *fakeMailgun) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeMailgun) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || username != "api" || password != f.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.URL.Path == "/v3/lists/pages" {
		if f.pages == nil {
			writeJSON(w, http.StatusOK, ListsPage{})
			return
		}
		f.pages(w, r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v3/lists/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[1] != "members" {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}
	list := parts[0]

	f.mu.Lock()
	status := f.failList[list]
	f.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(`{"message":"simulated failure"}`))
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 3:
		f.mu.Lock()
		subscribed, found := f.members[list][parts[2]]
		f.mu.Unlock()
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Member " + parts[2] + " not found"})
			return
		}
		writeJSON(w, http.StatusOK, MemberResponse{Member: &Member{Address: parts[2], Subscribed: subscribed}})

	case r.Method == http.MethodDelete && len(parts) == 3:
		f.mu.Lock()
		_, found := f.members[list][parts[2]]
		delete(f.members[list], parts[2])
		f.mu.Unlock()
		if !found {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Member " + parts[2] + " not found"})
			return
		}
		writeJSON(w, http.StatusOK, MemberResponse{
			Member:  &Member{Address: parts[2]},
			Message: "Mailing list member has been deleted",
		})

	case r.Method == http.MethodPost && len(parts) == 2:
		identifier := r.URL.Query().Get("address")
		if r.URL.Query().Get("upsert") != "yes" {
			f.mu.Lock()
			_, exists := f.members[list][identifier]
			f.mu.Unlock()
			if exists {
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Address already exists"})
				return
			}
		}
		f.addMember(list, identifier, true)
		writeJSON(w, http.StatusOK, MemberResponse{
			Member:  &Member{Address: identifier, Subscribed: true},
			Message: "Mailing list member has been created",
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.MailgunConfig{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		TimeoutSeconds: 5,
	})
}

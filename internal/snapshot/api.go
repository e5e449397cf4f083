package snapshot

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const defaultPageLimit = 350

// Routes registers the market overview endpoints.
func (c *Cache) Routes(r *mux.Router) {
	r.HandleFunc("/api/heatmap", c.handleHeatmap).Methods(http.MethodGet)
	r.HandleFunc("/api/top", c.handleTop).Methods(http.MethodGet)
}

func (c *Cache) handleHeatmap(w http.ResponseWriter, req *http.Request) {
	page := queryInt(req, "page", 0)
	limit := queryInt(req, "limit", defaultPageLimit)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Page(page, limit))
}

func (c *Cache) handleTop(w http.ResponseWriter, req *http.Request) {
	gainers, losers := c.TopMovers(15)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]Entry{
		"gainers": gainers,
		"losers":  losers,
	})
}

func queryInt(req *http.Request, name string, def int) int {
	if v := req.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

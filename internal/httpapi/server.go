// Package httpapi exposes the control HTTP surface spec.md §4.12 adds
// around a dht.Node: human-readable store/get endpoints plus status,
// health and routing-table introspection, grounded on the teacher's
// api/http_server.go.
package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kutluhann/kadnet/internal/dht"
	"github.com/kutluhann/kadnet/internal/id"
	"github.com/sirupsen/logrus"
)

// Server wraps a dht.Node with the HTTP surface operators and clients talk
// to, as distinct from the node-to-node RPC transport.
type Server struct {
	node *dht.Node
	log  *logrus.Entry
	mux  *http.ServeMux
}

// New builds a Server around node. Handlers are registered immediately so
// the returned Server's Handler is ready to pass to an http.Server.
func New(node *dht.Node, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{node: node, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/store", s.handleStore)
	s.mux.HandleFunc("/get", s.handleGet)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/routing-table", s.handleRoutingTable)
	return s
}

// Handler returns the http.Handler to serve, e.g. via http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.mux }

// keyFor hashes an arbitrary human-readable key into the 160-bit ID space
// the DHT addresses values by, the same Keccak-derivation the identity
// package uses for peer IDs.
func keyFor(raw string) id.ID {
	digest := crypto.Keccak256([]byte(raw))
	var out id.ID
	copy(out[:], digest[len(digest)-id.Size:])
	return out
}

type storeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type storeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	KeyHash string `json:"key_hash"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Key == "" || req.Value == "" {
		http.Error(w, "key and value are required", http.StatusBadRequest)
		return
	}

	key := keyFor(req.Key)
	keyHash := hex.EncodeToString(key[:])

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	stored, err := s.node.Store(ctx, key, []byte(req.Value))
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(storeResponse{Message: fmt.Sprintf("store failed: %v", err), KeyHash: keyHash})
		return
	}

	json.NewEncoder(w).Encode(storeResponse{
		Success: true,
		Message: fmt.Sprintf("stored at %d node(s)", stored),
		KeyHash: keyHash,
	})
}

type getRequest struct {
	Key string `json:"key"`
}

type getResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	KeyHash string `json:"key_hash"`
	Value   string `json:"value,omitempty"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req getRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	key := keyFor(req.Key)
	keyHash := hex.EncodeToString(key[:])

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	value, found, err := s.node.FindValue(ctx, key)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(getResponse{Message: fmt.Sprintf("lookup failed: %v", err), KeyHash: keyHash})
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(getResponse{Message: "key not found", KeyHash: keyHash})
		return
	}

	json.NewEncoder(w).Encode(getResponse{Success: true, KeyHash: keyHash, Value: string(value)})
}

type statusResponse struct {
	NodeID        string `json:"node_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	KnownPeers    int    `json:"known_peers"`
	NetworkStatus string `json:"network_status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	self := s.node.Self()
	resp := statusResponse{
		NodeID:        self.ID.String(),
		Host:          self.Endpoint.Host,
		Port:          self.Endpoint.Port,
		KnownPeers:    s.node.RoutingTable().TotalContacts(),
		NetworkStatus: "connected",
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

type bucketInfo struct {
	LowID    string `json:"low_id"`
	HighID   string `json:"high_id"`
	Contacts int    `json:"contacts"`
}

func (s *Server) handleRoutingTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")

	var buckets []bucketInfo
	for _, b := range s.node.RoutingTable().Buckets() {
		low, high := b.Range()
		buckets = append(buckets, bucketInfo{
			LowID:    low.String(),
			HighID:   high.String(),
			Contacts: b.Len(),
		})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"self_id": s.node.Self().ID.String(),
		"buckets": buckets,
	})
}

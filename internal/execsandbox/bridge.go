package execsandbox

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/insightqueue/insightqueue/internal/corerr"
	"github.com/insightqueue/insightqueue/internal/inflation"
	"github.com/insightqueue/insightqueue/internal/loader"
)

// Bridge exposes the File Loader and Inflation Cache to a generated-code
// subprocess over a loopback-only HTTP server. It is the path
// dataBridgeShim gives generated code to both, since the subprocess has no
// import path back into this process; the subprocess is not barred from
// the filesystem itself (see SubprocessRunner).
type Bridge struct {
	loader    *loader.Loader
	inflation *inflation.Manager
	dataDir   string
	listener  net.Listener
	server    *http.Server
}

// NewBridge constructs a Bridge. Call Start before reading Addr.
func NewBridge(ld *loader.Loader, infl *inflation.Manager, dataDir string) *Bridge {
	return &Bridge{loader: ld, inflation: infl, dataDir: dataDir}
}

// Start binds a loopback-only listener on an OS-assigned port and begins
// serving in the background.
func (b *Bridge) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	b.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/load", b.handleLoad(false))
	mux.HandleFunc("/load_head", b.handleLoad(true))
	mux.HandleFunc("/inflation", b.handleInflation)
	b.server = &http.Server{Handler: mux}

	go b.server.Serve(ln)
	return nil
}

// Addr is the host:port generated code should reach via DATABRIDGE_ADDR.
func (b *Bridge) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Close shuts the bridge server down, letting any in-flight request finish.
func (b *Bridge) Close() error {
	if b.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.server.Shutdown(ctx)
}

type loadRequest struct {
	File string `json:"file"`
	N    int    `json:"n"`
}

type frameResponse struct {
	Columns     []string   `json:"columns"`
	ColumnTypes []string   `json:"column_types"`
	Rows        [][]string `json:"rows"`
}

// handleLoad serves /load and /load_head, the only difference being whether
// the Loader is asked for the full Frame or a head-truncated one.
func (b *Bridge) handleLoad(headOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBridgeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.File == "" {
			writeBridgeError(w, http.StatusBadRequest, "file is required")
			return
		}
		path := filepath.Join(b.dataDir, filepath.FromSlash(req.File))

		var frame loader.Frame
		var err error
		if headOnly {
			n := req.N
			if n <= 0 {
				n = 20
			}
			frame, err = b.loader.LoadHead(path, n)
		} else {
			frame, err = b.loader.Load(path)
		}
		if err != nil {
			writeBridgeError(w, statusForErr(err), err.Error())
			return
		}

		resp := frameResponse{Columns: frame.Columns, Rows: frame.Rows}
		for _, t := range frame.ColumnTypes {
			resp.ColumnTypes = append(resp.ColumnTypes, string(t))
		}
		writeBridgeJSON(w, resp)
	}
}

type inflationRequest struct {
	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`
}

func (b *Bridge) handleInflation(w http.ResponseWriter, r *http.Request) {
	if b.inflation == nil {
		writeBridgeError(w, http.StatusServiceUnavailable, "inflation cache is not configured")
		return
	}
	var req inflationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBridgeError(w, http.StatusBadRequest, err.Error())
		return
	}
	table, err := b.inflation.Refresh(r.Context(), false)
	if err != nil {
		writeBridgeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeBridgeJSON(w, map[string]string{"summary": table.Summary(req.StartYear, req.EndYear)})
}

func writeBridgeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeBridgeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func statusForErr(err error) int {
	switch {
	case corerr.Is(err, corerr.NotFound):
		return http.StatusNotFound
	case corerr.Is(err, corerr.FileTooLarge), corerr.Is(err, corerr.UnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Package api serves datapoint access over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/speters/vs2d/codec"
	"github.com/speters/vs2d/vs2"
)

// MaxReadLen limits a single GET /dp request
const MaxReadLen = 1024

// Datapoints is the part of vs2.Device the handlers need
type Datapoints interface {
	ReadBlock(ctx context.Context, addr vs2.Address, length int) ([]byte, error)
	WriteBlock(ctx context.Context, addr vs2.Address, data []byte) error
	RemoteCall(ctx context.Context, addr vs2.Address, procID byte, args []byte) ([]byte, error)
	SysDeviceIdent(ctx context.Context) (vs2.DeviceIdent, error)
	State() vs2.State
	Stats() vs2.StatsSnapshot
}

var _ Datapoints = (*vs2.Device)(nil)

// VersionInfo is reported by GET /version
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

type server struct {
	dev  Datapoints
	info VersionInfo

	mu    sync.Mutex
	ident *vs2.DeviceIdent
}

// NewRouter registers all handlers
func NewRouter(dev Datapoints, info VersionInfo) *mux.Router {
	s := &server{dev: dev, info: info}
	router := mux.NewRouter()
	router.HandleFunc("/version", s.versionInfo).Methods("GET")
	router.HandleFunc("/status", s.status).Methods("GET")
	router.HandleFunc("/dp/{addr}", s.getDatapoint).Methods("GET")
	router.HandleFunc("/dp/{addr}", s.setDatapoint).Methods("POST")
	router.HandleFunc("/rpc/{addr}", s.remoteCall).Methods("POST")
	return router
}

// StatusCode maps errors of the vs2 package to HTTP status codes
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, vs2.ErrNotReady), errors.Is(err, vs2.ErrClosed), errors.Is(err, vs2.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, vs2.ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, vs2.ErrRemote):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vs2.ErrInvalidLength):
		return http.StatusBadRequest
	case errors.Is(err, vs2.ErrNack), errors.Is(err, vs2.ErrFraming), errors.Is(err, vs2.ErrChecksum),
		errors.Is(err, vs2.ErrShortPayload), errors.Is(err, vs2.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(code)
	w.Write([]byte(err.Error()))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	if err := e.Encode(v); err != nil {
		log.Errorf("api: encode response: %v", err)
	}
}

func (s *server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.info)
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	v := struct {
		State      vs2.State         `json:"state"`
		Ident      *vs2.DeviceIdent  `json:"ident,omitempty"`
		IdentError string            `json:"ident_error,omitempty"`
		Stats      vs2.StatsSnapshot `json:"stats"`
	}{State: s.dev.State(), Stats: s.dev.Stats()}

	s.mu.Lock()
	v.Ident = s.ident
	s.mu.Unlock()
	if v.Ident == nil && v.State == vs2.StateReady {
		id, err := s.dev.SysDeviceIdent(r.Context())
		if err != nil {
			v.IdentError = err.Error()
		} else {
			v.Ident = &id
			s.mu.Lock()
			s.ident = &id
			s.mu.Unlock()
		}
	}
	writeJSON(w, v)
}

func parseAddr(r *http.Request) (vs2.Address, error) {
	return vs2.ParseAddress(mux.Vars(r)["addr"])
}

type datapoint struct {
	Address vs2.Address `json:"address"`
	Data    string      `json:"data"`
	Value   *float64    `json:"value,omitempty"`
}

func (s *server) getDatapoint(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	length := 1
	if l := q.Get("len"); l != "" {
		if length, err = strconv.Atoi(l); err != nil || length < 1 || length > MaxReadLen {
			writeError(w, http.StatusBadRequest, fmt.Errorf("len=%q must be 1..%d", l, MaxReadLen))
			return
		}
	}
	div := 1.0
	if d := q.Get("div"); d != "" {
		if div, err = strconv.ParseFloat(d, 64); err != nil || div == 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("div=%q is not a non-zero number", d))
			return
		}
	}
	signed := true
	if sg := q.Get("signed"); sg != "" {
		if signed, err = strconv.ParseBool(sg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("signed=%q is not a boolean", sg))
			return
		}
	}

	b, err := s.dev.ReadBlock(r.Context(), addr, length)
	if err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	dp := datapoint{Address: addr, Data: vs2.FormatBytes(b)}
	if len(b) <= 8 {
		if f, err := codec.BytesValue(b, div, signed); err == nil {
			dp.Value = &f
		}
	}
	writeJSON(w, dp)
}

type setRequest struct {
	Data  *string  `json:"data"`
	Value *float64 `json:"value"`
	Size  int      `json:"size"`
	Div   float64  `json:"div"`
}

func (s *server) setDatapoint(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var data []byte
	switch {
	case req.Data != nil:
		data, err = vs2.ParseHexBytes(*req.Data)
	case req.Value != nil:
		div := req.Div
		if div == 0 {
			div = 1
		}
		size := req.Size
		if size == 0 {
			size = 1
		}
		data, err = codec.ScaledInt(*req.Value, div, size)
	default:
		err = errors.New("either data or value is required")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.dev.WriteBlock(r.Context(), addr, data); err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	log.Infof("api: wrote [%s] to %v", vs2.FormatBytes(data), addr)
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("\"OK\"\n"))
}

type rpcRequest struct {
	Proc *int   `json:"proc"`
	Args string `json:"args"`
}

func (s *server) remoteCall(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddr(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Proc == nil || *req.Proc < 0 || *req.Proc > 0xff {
		writeError(w, http.StatusBadRequest, errors.New("proc must be 0..255"))
		return
	}
	var args []byte
	if req.Args != "" {
		if args, err = vs2.ParseHexBytes(req.Args); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	b, err := s.dev.RemoteCall(r.Context(), addr, byte(*req.Proc), args)
	if err != nil {
		writeError(w, StatusCode(err), err)
		return
	}
	writeJSON(w, struct {
		Address vs2.Address `json:"address"`
		Data    string      `json:"data"`
	}{addr, vs2.FormatBytes(b)})
}

// Copyright 2025 The nginx-switcher Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	switcher "github.com/fab617/nginx-switcher"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m *switcher.Manager
	r *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	h.writeJsonStatus(w, http.StatusOK, v)
}

func (h *Handler) writeJsonStatus(w http.ResponseWriter, code int, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(code)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func (h *Handler) readJson(r *http.Request, v interface{}) *Error {
	if r.Body == nil {
		return &Error{http.StatusBadRequest, "Missing request body"}
	}
	if e := json.NewDecoder(r.Body).Decode(v); e != nil {
		return &Error{http.StatusBadRequest, "Bad request body: " + e.Error()}
	}
	return nil
}

// errorFor maps Manager errors onto HTTP status codes.
func errorFor(e error) *Error {
	var pe *switcher.ProcessError
	switch {
	case errors.Is(e, switcher.ErrNoSuchInstance):
		return &Error{http.StatusNotFound, e.Error()}
	case errors.Is(e, switcher.ErrInvalidBinary),
		errors.Is(e, switcher.ErrConfigMissing),
		errors.Is(e, switcher.ErrBinaryNotFound):
		return &Error{http.StatusPreconditionFailed, e.Error()}
	case errors.As(e, &pe):
		return &Error{http.StatusConflict, e.Error()}
	case errors.Is(e, switcher.ErrManagerShutdown):
		return &Error{http.StatusServiceUnavailable, e.Error()}
	default:
		return &Error{http.StatusInternalServerError, e.Error()}
	}
}

// pollArgs returns the etag and wait requested for a long poll.
func pollArgs(r *http.Request) (string, time.Duration) {
	etag := r.Header.Get(PollEtagHeader)
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if etag == "" || e != nil || secs <= 0 {
		return "", 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return etag, time.Duration(secs) * time.Second
}

func formatEtag(v int64) string {
	return strconv.FormatInt(v, 16)
}

func parseEtag(s string) (int64, bool) {
	v, e := strconv.ParseInt(s, 16, 64)
	return v, e == nil
}

// notModified answers 304 when the client already holds etag.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("Etag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) getManager(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollArgs(r); wait > 0 {
		if old, ok := parseEtag(etag); ok {
			h.m.WatchSerial(old, wait)
		}
	}
	info := h.m.GetInfo()
	if notModified(w, r, formatEtag(info.Serial)) {
		return
	}
	h.writeJson(w, info)
}

func (h *Handler) listInstances(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollArgs(r); wait > 0 {
		if old, ok := parseEtag(etag); ok {
			h.m.WatchSerial(old, wait)
		}
	}
	list, serial := h.m.ListInstances()
	if notModified(w, r, formatEtag(serial)) {
		return
	}
	info := &ListInfo{
		Counts:    switcher.CountStatuses(list),
		Instances: make([]*InstanceInfo, 0, len(list)),
	}
	for i, inst := range list {
		info.Instances = append(info.Instances, newInstanceInfo(i, inst))
	}
	h.writeJson(w, info)
}

// findInstance accepts either an instance ID or a registry index.
func (h *Handler) findInstance(id string) (switcher.Instance, int, *Error) {
	if inst, idx, e := h.m.Lookup(id); e == nil {
		return inst, idx, nil
	}
	if idx, e := strconv.Atoi(id); e == nil {
		if inst, e := h.m.InstanceAt(idx); e == nil {
			return inst, idx, nil
		}
	}
	return switcher.Instance{}, -1, &Error{http.StatusNotFound, "Instance not found"}
}

func (h *Handler) getInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if inst, idx, e := h.findInstance(vars["id"]); e != nil {
		h.writeError(w, e)
	} else {
		h.writeJson(w, newInstanceInfo(idx, inst))
	}
}

func (h *Handler) registerInstance(w http.ResponseWriter, r *http.Request) {
	req := &RegisterRequest{}
	if e := h.readJson(r, req); e != nil {
		h.writeError(w, e)
		return
	}
	if req.Path == "" {
		h.writeError(w, &Error{http.StatusBadRequest, "Missing path"})
		return
	}
	inst, err := h.m.RegisterConfig(req.Path)
	if err != nil {
		h.writeError(w, errorFor(err))
		return
	}
	_, idx, _ := h.m.Lookup(inst.ID)
	h.writeJsonStatus(w, http.StatusCreated, newInstanceInfo(idx, inst))
}

func (h *Handler) removeInstances(w http.ResponseWriter, r *http.Request) {
	req := &RemoveRequest{}
	if e := h.readJson(r, req); e != nil {
		h.writeError(w, e)
		return
	}
	// Accept IDs and indices as well as paths.
	paths := make([]string, 0, len(req.Paths))
	for _, p := range req.Paths {
		if inst, _, e := h.findInstance(p); e == nil {
			p = inst.ConfigPath
		}
		paths = append(paths, p)
	}
	if err := h.m.RemoveConfigs(paths); err != nil {
		h.writeError(w, errorFor(err))
		return
	}
	h.writeJson(w, ok)
}

func (h *Handler) instanceAction(action switcher.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		inst, _, e := h.findInstance(vars["id"])
		if e != nil {
			h.writeError(w, e)
			return
		}
		var res switcher.Result
		if action == switcher.ActionStart {
			res = h.m.Start(inst.ID)
		} else {
			res = h.m.Stop(inst.ID)
		}
		if res.Err != nil {
			h.writeError(w, errorFor(res.Err))
			return
		}
		h.writeJson(w, &ActionResult{
			Action:     res.Action,
			ID:         res.ID,
			ConfigPath: res.ConfigPath,
			Status:     res.Status,
		})
	}
}

func (h *Handler) rescan(w http.ResponseWriter, r *http.Request) {
	req := &RescanRequest{}
	if r.ContentLength != 0 {
		if e := h.readJson(r, req); e != nil {
			h.writeError(w, e)
			return
		}
	}
	found, err := h.m.Rescan(req.Dir)
	if err != nil {
		h.writeError(w, errorFor(err))
		return
	}
	if found == nil {
		found = []string{}
	}
	h.writeJson(w, &RescanInfo{Found: found})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	h.m.Reload()
	h.writeJson(w, ok)
}

func (h *Handler) getBinary(w http.ResponseWriter, r *http.Request) {
	bin := h.m.Binary()
	h.writeJson(w, &BinaryInfo{Path: bin, Valid: switcher.ValidBinary(bin)})
}

func (h *Handler) setBinary(w http.ResponseWriter, r *http.Request) {
	req := &BinaryInfo{}
	if e := h.readJson(r, req); e != nil {
		h.writeError(w, e)
		return
	}
	if err := h.m.SetBinary(req.Path); err != nil {
		h.writeError(w, errorFor(err))
		return
	}
	h.getBinary(w, r)
}

func (h *Handler) discoverBinary(w http.ResponseWriter, r *http.Request) {
	if _, err := h.m.DiscoverBinary(); err != nil {
		h.writeError(w, errorFor(err))
		return
	}
	h.getBinary(w, r)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	if etag, wait := pollArgs(r); wait > 0 {
		if old, ok := parseEtag(etag); ok {
			h.m.WatchLog(old, wait)
		}
	}
	recs, id := h.m.GetLog(0)
	if notModified(w, r, formatEtag(id)) {
		return
	}
	if recs == nil {
		recs = []switcher.LogRecord{}
	}
	h.writeJson(w, recs)
}

// streamEvents writes one JSON event per line until the client goes away
// or the manager shuts down.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	fl, canFlush := w.(http.Flusher)
	ch, cancel := h.m.Subscribe(0)
	defer cancel()

	w.Header().Set("Content-Type", mimeNDJson)
	w.WriteHeader(http.StatusOK)
	if canFlush {
		fl.Flush()
	}
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if e := enc.Encode(ev); e != nil {
				return
			}
			if canFlush {
				fl.Flush()
			}
		}
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *switcher.Manager) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	r.HandleFunc("/", h.getManager).Methods("GET")
	r.HandleFunc("/instances", h.listInstances).Methods("GET")
	r.HandleFunc("/instances", h.registerInstance).Methods("POST")
	r.HandleFunc("/instances", h.removeInstances).Methods("DELETE")
	r.HandleFunc("/instances/{id}", h.getInstance).Methods("GET")
	r.HandleFunc("/instances/{id}/start", h.instanceAction(switcher.ActionStart)).Methods("POST")
	r.HandleFunc("/instances/{id}/stop", h.instanceAction(switcher.ActionStop)).Methods("POST")
	r.HandleFunc("/rescan", h.rescan).Methods("POST")
	r.HandleFunc("/reload", h.reload).Methods("POST")
	r.HandleFunc("/binary", h.getBinary).Methods("GET")
	r.HandleFunc("/binary", h.setBinary).Methods("PUT")
	r.HandleFunc("/binary/discover", h.discoverBinary).Methods("POST")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/events", h.streamEvents).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return h
}

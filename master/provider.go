package master

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/conveyor-ci/conveyor/clients/client-go/cvdispatch"
)

// DispatchProvider exposes a Master over HTTP as the dispatch service.
type DispatchProvider struct {
	master *Master
}

func NewDispatchProvider(m *Master) *DispatchProvider {
	return &DispatchProvider{
		master: m,
	}
}

func (dp *DispatchProvider) RegisterService(r *mux.Router) {
	s := r.PathPrefix("/api/dispatch/v1").Subrouter()
	s.HandleFunc("/ping", dp.Ping).Methods("GET")
	s.HandleFunc("/status", dp.Status).Methods("GET")
	s.HandleFunc("/workers", dp.Workers).Methods("GET")
	s.HandleFunc("/workers/{clientId}/connect", dp.master.requireAuth(dp.Connect)).Methods("POST")
	s.HandleFunc("/workers/{clientId}/collection", dp.master.requireAuth(dp.ValidateCollection)).Methods("PUT")
	s.HandleFunc("/workers/{clientId}/claim-test", dp.master.requireAuth(dp.ClaimTest)).Methods("POST")
	s.HandleFunc("/workers/{clientId}/result", dp.master.requireAuth(dp.FinishedTest)).Methods("POST")
	s.HandleFunc("/workers/{clientId}/disconnect", dp.master.requireAuth(dp.Disconnect)).Methods("POST")
	s.HandleFunc("/workers/{clientId}/keep-alive", dp.master.requireAuth(dp.KeepAlive)).Methods("POST")
	s.HandleFunc("/workers/{clientId}/warning", dp.master.requireAuth(dp.ReportWarning)).Methods("POST")
	s.HandleFunc("/stop", dp.master.requireAuth(dp.Stop)).Methods("POST")
	s.HandleFunc("/events/feed", dp.master.requireAuth(dp.master.feed.ServeHTTP)).Methods("GET")
}

func (dp *DispatchProvider) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"alive":  true,
		"uptime": time.Since(dp.master.started).Seconds(),
	}, nil)
}

func (dp *DispatchProvider) Status(w http.ResponseWriter, r *http.Request) {
	out, err := dp.master.Status()
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) Workers(w http.ResponseWriter, r *http.Request) {
	out, err := dp.master.Workers()
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) Connect(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	out, err := dp.master.Connect(vars["clientId"])
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) ValidateCollection(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	var payload cvdispatch.ValidateCollectionRequest
	if err := decodeBody(r, &payload); err != nil {
		reportError(w, err)
		return
	}
	out, err := dp.master.ValidateCollection(vars["clientId"], &payload)
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) ClaimTest(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	out, err := dp.master.ClaimTest(vars["clientId"])
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) FinishedTest(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	var payload cvdispatch.FinishedTestRequest
	if err := decodeBody(r, &payload); err != nil {
		reportError(w, err)
		return
	}
	out, err := dp.master.FinishedTest(vars["clientId"], &payload)
	writeJSON(w, out, err)
}

func (dp *DispatchProvider) Disconnect(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	noBody(w, dp.master.Disconnect(vars["clientId"]))
}

func (dp *DispatchProvider) KeepAlive(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	noBody(w, dp.master.KeepAlive(vars["clientId"]))
}

func (dp *DispatchProvider) ReportWarning(w http.ResponseWriter, r *http.Request) {
	vars := requestVars(r)
	var payload cvdispatch.ReportWarningRequest
	if err := decodeBody(r, &payload); err != nil {
		reportError(w, err)
		return
	}
	noBody(w, dp.master.ReportWarning(vars["clientId"], &payload))
}

func (dp *DispatchProvider) Stop(w http.ResponseWriter, r *http.Request) {
	noBody(w, dp.master.Stop())
}

func requestVars(r *http.Request) map[string]string {
	encodedVars := mux.Vars(r)
	decodedVars := make(map[string]string, len(encodedVars))
	for i, j := range encodedVars {
		decoded, err := url.QueryUnescape(j)
		if err != nil {
			// Leave undecodable vars as received; the master answers for
			// the literal client id and finds no registration.
			decoded = j
		}
		decodedVars[i] = decoded
	}
	return decodedVars
}

func decodeBody(r *http.Request, payload any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return &BadPayloadError{Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		reportError(w, err)
		return
	}
	bytes, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		reportError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(bytes)
}

func reportError(w http.ResponseWriter, err error) {
	var unknownWorker *UnknownWorkerError
	var badPayload *BadPayloadError
	switch {
	case errors.As(err, &unknownWorker):
		w.WriteHeader(http.StatusNotFound)
	case errors.As(err, &badPayload):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, _ = w.Write([]byte(err.Error()))
}

func noBody(w http.ResponseWriter, err error) {
	if err != nil {
		reportError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

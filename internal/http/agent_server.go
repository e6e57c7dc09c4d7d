// Package http exposes the registry operations over a small management REST
// API. It is the process's only control surface; all state lives behind the
// registry.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	herrors "rpa-agent/internal/http/errors"
	"rpa-agent/internal/http/validation"
	"rpa-agent/internal/model"
)

// Registry is the subset of registry operations the API exposes.
type Registry interface {
	Add(name, encSource, keySource, description string) error
	Remove(name string) error
	Rename(oldName, newName string) error
	Activate(name string) error
	Deactivate(name string) error
	ExecuteNow(name string) error
	Info(name string) (model.RunMetadata, error)
	List() []model.Job
}

// ExecutionLog is the read side of the per-job logs.
type ExecutionLog interface {
	ReadAll(name string) []string
	Summary() []string
}

type agentServer struct {
	registry Registry
	execLog  ExecutionLog
	validate *validator.Validate
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	js, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error forming response data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}

var (
	addErrorHandler        = herrors.NewErrorHandler("AddRPA")
	removeErrorHandler     = herrors.NewErrorHandler("RemoveRPA")
	renameErrorHandler     = herrors.NewErrorHandler("RenameRPA")
	activateErrorHandler   = herrors.NewErrorHandler("ActivateRPA")
	deactivateErrorHandler = herrors.NewErrorHandler("DeactivateRPA")
	executeErrorHandler    = herrors.NewErrorHandler("ExecuteRPA")
	infoErrorHandler       = herrors.NewErrorHandler("RPAInfo")
)

type addRequest struct {
	Name        string `json:"name" validate:"required,rpaName,uniqueName"`
	EncPath     string `json:"encPath" validate:"required,file"`
	KeyPath     string `json:"keyPath" validate:"required,file"`
	Description string `json:"description"`
}

type renameRequest struct {
	NewName string `json:"newName" validate:"required,rpaName,uniqueName"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, model.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrorExists):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrorInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (as *agentServer) decodeJSON(w http.ResponseWriter, req *http.Request, eh *herrors.ErrorHandler, v interface{}) bool {
	contentType := req.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		eh.WriteAndLogError(w, "failed to parse media type", err, http.StatusBadRequest, log.Fields{"header": contentType})
		return false
	}
	if mediaType != "application/json" {
		eh.WriteAndLogError(
			w,
			"expect application/json Content-Type",
			errors.New("Content-Type error"),
			http.StatusUnsupportedMediaType,
			log.Fields{"media type": mediaType},
		)
		return false
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err = dec.Decode(v); err != nil {
		eh.WriteAndLogError(w, "failed to parse request body", err, http.StatusBadRequest, log.Fields{})
		return false
	}
	if err = as.validate.Struct(v); err != nil {
		eh.WriteAndLogValidationErrors(w, err.(validator.ValidationErrors), log.Fields{"request": v})
		return false
	}
	return true
}

func (as *agentServer) addHandler(w http.ResponseWriter, req *http.Request) {
	ar := addRequest{}
	if !as.decodeJSON(w, req, addErrorHandler, &ar) {
		return
	}
	if err := as.registry.Add(ar.Name, ar.EncPath, ar.KeyPath, ar.Description); err != nil {
		addErrorHandler.WriteAndLogError(w, "failed to add RPA", err, statusCodeFor(err), log.Fields{"request": ar})
		return
	}
	writeJSON(w, statusResponse{"added"})
}

func (as *agentServer) listHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, as.registry.List())
}

func (as *agentServer) infoHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	meta, err := as.registry.Info(name)
	if err != nil {
		infoErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to get info for %s", name),
			err,
			statusCodeFor(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, meta)
}

func (as *agentServer) removeHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := as.registry.Remove(name); err != nil {
		removeErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to remove %s", name),
			err,
			statusCodeFor(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, statusResponse{"removed"})
}

func (as *agentServer) renameHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	rr := renameRequest{}
	if !as.decodeJSON(w, req, renameErrorHandler, &rr) {
		return
	}
	if err := as.registry.Rename(name, rr.NewName); err != nil {
		renameErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to rename %s", name),
			err,
			statusCodeFor(err),
			log.Fields{"newName": rr.NewName},
		)
		return
	}
	writeJSON(w, statusResponse{"renamed"})
}

func (as *agentServer) activateHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := as.registry.Activate(name); err != nil {
		activateErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to activate %s", name),
			err,
			statusCodeFor(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, statusResponse{"activated"})
}

func (as *agentServer) deactivateHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := as.registry.Deactivate(name); err != nil {
		deactivateErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to deactivate %s", name),
			err,
			statusCodeFor(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, statusResponse{"deactivated"})
}

func (as *agentServer) executeHandler(w http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	if err := as.registry.ExecuteNow(name); err != nil {
		executeErrorHandler.WriteAndLogError(
			w,
			fmt.Sprintf("failed to execute %s", name),
			err,
			statusCodeFor(err),
			log.Fields{},
		)
		return
	}
	writeJSON(w, statusResponse{"execution started"})
}

func (as *agentServer) logHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, as.execLog.ReadAll(mux.Vars(req)["name"]))
}

func (as *agentServer) logSummaryHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, as.execLog.Summary())
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Infof("%s %s", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

// NewAgentServer builds the management API server. The name route variable is
// restricted to the same character class the registry accepts.
func NewAgentServer(reg Registry, execLog ExecutionLog, addr string) (*http.Server, error) {
	server := agentServer{reg, execLog, validator.New()}
	if err := validation.RegisterRPAValidation(server.validate, reg); err != nil {
		return nil, fmt.Errorf("error registering request validation: %w", err)
	}
	server.validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		fullJson := field.Tag.Get("json")
		if fullJson == "-" {
			return ""
		}
		jsonName := strings.SplitN(fullJson, ",", 2)[0]
		if jsonName != "" {
			return jsonName
		}
		return field.Name
	})

	router := mux.NewRouter()
	router.StrictSlash(true)
	router.HandleFunc("/api/v1/rpa/", server.addHandler).Methods("POST")
	router.HandleFunc("/api/v1/rpa/", server.listHandler).Methods("GET")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/", server.infoHandler).Methods("GET")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/", server.removeHandler).Methods("DELETE")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/rename/", server.renameHandler).Methods("POST")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/activate/", server.activateHandler).Methods("POST")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/deactivate/", server.deactivateHandler).Methods("POST")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/execute/", server.executeHandler).Methods("POST")
	router.HandleFunc("/api/v1/rpa/{name:[\\w.-]+}/log/", server.logHandler).Methods("GET")
	router.HandleFunc("/api/v1/logs/summary/", server.logSummaryHandler).Methods("GET")
	router.Use(loggingMiddleware)
	return &http.Server{Addr: addr, Handler: router}, nil
}

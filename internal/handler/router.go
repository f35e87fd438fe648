package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Routes struct {
	Statements *StatementHandler
	Credit     *CreditHandler
	Internal   *InternalHandler
	Tokens     TokenParser
	JobToken   string
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

func NewRouter(rt Routes, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware(logger))

	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	if rt.Metrics != nil {
		router.Handle("/metrics", rt.Metrics).Methods("GET")
	}

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(AuthMiddleware(rt.Tokens, logger))
	rt.Statements.RegisterRoutes(apiRouter.PathPrefix("/statements").Subrouter())
	rt.Credit.RegisterRoutes(apiRouter.PathPrefix("/credit-capacity").Subrouter())

	internalRouter := router.PathPrefix("/internal").Subrouter()
	internalRouter.Use(JobTokenMiddleware(rt.JobToken, logger))
	rt.Internal.RegisterRoutes(internalRouter)

	return router
}

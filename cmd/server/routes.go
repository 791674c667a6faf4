// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (app *application) routes() http.Handler {
	router := mux.NewRouter()
	router.Use(app.logRequest)

	router.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", app.authenticate(app.handleWebSocket)).Methods(http.MethodGet)

	return router
}

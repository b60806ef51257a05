// Package httpjson renders JSON responses with the canonical headers.
package httpjson

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

func Render(w http.ResponseWriter, data any) {
	RenderStatus(w, http.StatusOK, data)
}

func RenderStatus(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.Errorf("encoding JSON response: %s", err)
	}
}

package middleware

import (
	"net/http"

	"github.com/innovfix/onlycare-calls/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

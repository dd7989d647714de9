package good

import "net/http"

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
}

func Submit(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusBadRequest, "INVALID_BODY", "bad request")
}

func Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nil)
}

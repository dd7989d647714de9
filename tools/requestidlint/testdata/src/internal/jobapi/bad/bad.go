package bad

import "net/http"

func Submit(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest) // want "use writeError helper to ensure X-Request-ID header is set instead of calling WriteHeader directly"
}

func Cancel(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not found", http.StatusNotFound) // want "use writeError helper to ensure X-Request-ID header is set instead of http.Error"
}

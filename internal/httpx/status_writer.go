package httpx

import "net/http"

// StatusWriter records the status code and body bytes written through it.
// Status stays 0 until the handler writes a header or body.
type StatusWriter struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

func (w *StatusWriter) WriteHeader(code int) {
	if w.Status == 0 {
		w.Status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *StatusWriter) Write(p []byte) (int, error) {
	if w.Status == 0 {
		w.Status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.Bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer's
// Flush and deadline methods.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Started reports whether anything has been sent to the client.
func (w *StatusWriter) Started() bool {
	return w.Status != 0
}

package frame

import (
	_ "embed"
	"net/http"
)

const (
	ObserverScriptPath = "/observer.js"
	HostScriptPath     = "/host.js"
)

//go:embed assets/observer.js
var observerJS []byte

//go:embed assets/host.js
var hostJS []byte

// ObserverScript is the bridge installed inside the tested document.
func ObserverScript() []byte { return observerJS }

// ServeObserver serves the observer bridge script.
func ServeObserver(w http.ResponseWriter, r *http.Request) {
	serveScript(w, observerJS)
}

// ServeHost serves the host-page relay script.
func ServeHost(w http.ResponseWriter, r *http.Request) {
	serveScript(w, hostJS)
}

func serveScript(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(body)
}

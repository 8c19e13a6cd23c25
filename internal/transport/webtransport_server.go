package transport

import (
	"crypto/tls"
	"net/http"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// WebTransportListener mounts a WebTransport (HTTP/3 + QUIC) endpoint at a
// single path and hands each accepted session to its session handler. It is
// the server-side counterpart of the teacher's own webtransport.Dialer usage
// in its tests; the teacher's production server.go only ever wired the
// WebSocket variant, so this listener follows webtransport-go's own
// documented server-construction shape (a *webtransport.Server embedding an
// http3.Server) rather than any teacher precedent, since none existed to
// ground it on.
type WebTransportListener struct {
	srv       *webtransport.Server
	path      string
	onSession func(*webtransport.Session)
}

// NewWebTransportListener builds a listener bound to addr with tlsConfig,
// serving WebTransport sessions at path. Call SetSessionHandler before
// ListenAndServe.
func NewWebTransportListener(addr, path string, tlsConfig *tls.Config) *WebTransportListener {
	mux := http.NewServeMux()
	l := &WebTransportListener{path: path}
	l.srv = &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			Handler:   mux,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := l.srv.Upgrade(w, r)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if l.onSession != nil {
			l.onSession(sess)
		}
	})
	return l
}

// SetSessionHandler registers the callback invoked for every accepted
// session. Must be called before ListenAndServe.
func (l *WebTransportListener) SetSessionHandler(h func(*webtransport.Session)) {
	l.onSession = h
}

// ListenAndServe blocks serving WebTransport connections until the process
// shuts the listener down via Close.
func (l *WebTransportListener) ListenAndServe() error {
	return l.srv.ListenAndServe()
}

// Close shuts down the QUIC/HTTP3 listener.
func (l *WebTransportListener) Close() error {
	return l.srv.Close()
}

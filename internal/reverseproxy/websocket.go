package reverseproxy

import (
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"
)

// wsUpgrader is configured permissively on Origin checking: cblt proxies
// to a single configured upstream per directive, so origin validation is
// the origin's concern, not the proxy's, mirroring the teacher's
// internal/proxy/websocket.go IsWebSocketUpgrade contract (Connection:
// upgrade + Upgrade: websocket is sufficient to attempt the upgrade).
var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// serveWebSocket implements spec.md §4.5 step 6: pick an origin, dial it
// directly (bypassing httputil.ReverseProxy, which cannot hijack), and
// pump bytes bidirectionally once the origin answers 101.
//
// Grounded in the teacher's internal/proxy/websocket.go hijack-dial-pump
// shape, rebuilt on gorilla/websocket (a retrieved-pack dependency the
// teacher did not use directly for this path, promoted here since it
// gives a correctly-framed, masking-aware client/server pair instead of
// the teacher's hand-rolled raw TCP splice).
func (p *Proxy) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	origin, err := p.pool.Pick(r.Context(), clientIP)
	if err != nil {
		// Same exhaustion status as the non-upgrade path: spec.md §4.5
		// step 1 pins pool exhaustion to 502 regardless of directive shape.
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	upstreamURL := "ws://" + origin.Authority() + r.URL.RequestURI()
	if origin.Scheme == "https" {
		upstreamURL = "wss://" + origin.Authority() + r.URL.RequestURI()
	}

	dialHeader := r.Header.Clone()
	dialHeader.Del("Upgrade")
	dialHeader.Del("Connection")
	dialHeader.Del("Sec-Websocket-Key")
	dialHeader.Del("Sec-Websocket-Version")
	dialHeader.Del("Sec-Websocket-Extensions")

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	upstreamConn, resp, err := dialer.Dial(upstreamURL, dialHeader)
	if err != nil {
		p.pool.ReportFailure(origin)
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "Bad Gateway", status)
		return
	}
	defer upstreamConn.Close()
	p.pool.ReportSuccess(origin)

	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		if p.log != nil {
			p.log.Debug("websocket upgrade to client failed", zap.Error(err))
		}
		return
	}
	defer clientConn.Close()

	pump(clientConn, upstreamConn, p.log)
}

// pump copies frames bidirectionally until either side closes, the
// "bidirectional byte-pump" of spec.md §4.5 step 6.
func pump(a, b *websocket.Conn, log *zap.Logger) {
	done := make(chan struct{}, 2)
	go relay(a, b, done, log)
	go relay(b, a, done, log)
	<-done
}

func relay(dst, src *websocket.Conn, done chan<- struct{}, log *zap.Logger) {
	defer func() { done <- struct{}{} }()
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && log != nil {
				if err != io.EOF {
					log.Debug("websocket relay ended", zap.Error(err))
				}
			}
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

//////////////////////////////////////////////////////////////////////////////
//
// Preview serves the overlaid camera feed over HTTP and pushes keypoints
// to websocket subscribers. It replaces the original GUI window.
//
//////////////////////////////////////////////////////////////////////////////

package movecam

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const previewPage = `<!DOCTYPE html>
<html>
<head><title>movecam</title></head>
<body style="background:#111;color:#eee;font-family:monospace">
<img id="frame" src="/frame">
<pre id="kps"></pre>
<script>
setInterval(function () {
  document.getElementById("frame").src = "/frame?" + Date.now();
}, 100);
var ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function (ev) {
  document.getElementById("kps").textContent = ev.data;
};
</script>
</body>
</html>
`

type Preview struct {
	addr string
	srv  *http.Server

	upgrader websocket.Upgrader

	mu   sync.Mutex
	jpeg []byte

	subMu sync.Mutex
	subs  map[*websocket.Conn]struct{}
}

func NewPreview(addr string) *Preview {
	p := &Preview{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[*websocket.Conn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", p.indexHandler)
	mux.HandleFunc("/frame", p.frameHandler)
	mux.HandleFunc("/ws", p.websocketHandler)
	p.srv = &http.Server{Addr: addr, Handler: mux}
	return p
}

// Serve blocks until Close.
func (p *Preview) Serve() error {
	err := p.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (p *Preview) Close() error {
	p.subMu.Lock()
	for conn := range p.subs {
		conn.Close()
	}
	p.subs = make(map[*websocket.Conn]struct{})
	p.subMu.Unlock()

	return p.srv.Close()
}

// Publish stores the latest overlaid frame and fans the keypoint vector
// out to websocket subscribers.
func (p *Preview) Publish(rgb []byte, width, height int, kps []float32) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[4*i] = rgb[3*i]
		img.Pix[4*i+1] = rgb[3*i+1]
		img.Pix[4*i+2] = rgb[3*i+2]
		img.Pix[4*i+3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return
	}

	p.mu.Lock()
	p.jpeg = buf.Bytes()
	p.mu.Unlock()

	p.broadcast(kps)
}

func (p *Preview) broadcast(kps []float32) {
	msg, err := json.Marshal(struct {
		Keypoints []float32 `json:"keypoints"`
	}{kps})
	if err != nil {
		return
	}

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for conn := range p.subs {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(p.subs, conn)
		}
	}
}

func (p *Preview) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(previewPage))
}

func (p *Preview) frameHandler(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	frame := p.jpeg
	p.mu.Unlock()

	if frame == nil {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(frame)
}

func (p *Preview) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p.subMu.Lock()
	p.subs[conn] = struct{}{}
	p.subMu.Unlock()

	// Drain the connection so pings and closes are processed; drop the
	// subscriber once it goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		p.subMu.Lock()
		delete(p.subs, conn)
		p.subMu.Unlock()
		conn.Close()
	}()
}

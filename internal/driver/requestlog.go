package driver

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/stampede/api/schemas"
)

// bodyFetchTimeout bounds the background fetch of one response body.
const bodyFetchTimeout = 10 * time.Second

// maxCapturedBody truncates enormous response bodies before they enter the
// evidence log.
const maxCapturedBody = 64 * 1024

// pendingRequest accumulates CDP events for one request until it finishes.
type pendingRequest struct {
	record      schemas.RequestRecord
	encoding    string
	resource    network.ResourceType
	hasPostData bool
}

// requestLog captures the session's API traffic into a fixed-capacity ring.
// Only document and XHR/fetch traffic is kept; images and media would drown
// the evidence.
type requestLog struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[network.RequestID]*pendingRequest
	ring    []schemas.RequestRecord
	head    int
	size    int

	ctx context.Context
	wg  sync.WaitGroup
}

func newRequestLog(capacity int, logger *zap.Logger) *requestLog {
	if capacity < 1 {
		capacity = 200
	}
	return &requestLog{
		log:     logger.Named("requestlog"),
		pending: make(map[network.RequestID]*pendingRequest),
		ring:    make([]schemas.RequestRecord, capacity),
	}
}

// start enables network capture on the session and hooks the event stream.
func (rl *requestLog) start(ctx context.Context) error {
	rl.ctx = ctx
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		return err
	}

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			rl.handleRequest(ev)
		case *network.EventResponseReceived:
			rl.handleResponse(ev)
		case *network.EventLoadingFinished:
			rl.handleFinished(ev.RequestID)
		case *network.EventLoadingFailed:
			rl.handleFailed(ev.RequestID)
		}
	})
	return nil
}

func captured(t network.ResourceType) bool {
	switch t {
	case network.ResourceTypeDocument, network.ResourceTypeXHR, network.ResourceTypeFetch:
		return true
	}
	return false
}

func (rl *requestLog) handleRequest(ev *network.EventRequestWillBeSent) {
	if !captured(ev.Type) {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pending[ev.RequestID] = &pendingRequest{
		resource:    ev.Type,
		hasPostData: ev.Request.HasPostData,
		record: schemas.RequestRecord{
			Method:    ev.Request.Method,
			URL:       ev.Request.URL,
			Timestamp: time.Now(),
		},
	}
}

func (rl *requestLog) handleResponse(ev *network.EventResponseReceived) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p, ok := rl.pending[ev.RequestID]
	if !ok {
		return
	}
	p.record.Status = int(ev.Response.Status)
	for name, value := range ev.Response.Headers {
		if name == "Content-Encoding" || name == "content-encoding" {
			if s, ok := value.(string); ok {
				p.encoding = s
			}
		}
	}
}

// handleFinished fetches the response body in the background, decodes it and
// commits the record to the ring.
func (rl *requestLog) handleFinished(id network.RequestID) {
	rl.mu.Lock()
	p, ok := rl.pending[id]
	if ok {
		delete(rl.pending, id)
	}
	rl.mu.Unlock()
	if !ok {
		return
	}

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()

		fetchCtx, cancel := context.WithTimeout(rl.ctx, bodyFetchTimeout)
		defer cancel()

		var body []byte
		var postData string
		err := chromedp.Run(fetchCtx, chromedp.ActionFunc(func(c context.Context) error {
			if p.hasPostData {
				// Post data fetch failures are non-fatal; many requests
				// legitimately have none by the time we ask.
				if data, err := network.GetRequestPostData(id).Do(c); err == nil {
					postData = data
				}
			}
			var err error
			body, err = network.GetResponseBody(id).Do(c)
			return err
		}))
		if err != nil {
			if rl.ctx.Err() == nil {
				rl.log.Debug("Failed to fetch response body", zap.String("url", p.record.URL), zap.Error(err))
			}
		} else {
			p.record.ResponseBody = string(decodeBody(body, p.encoding))
		}
		p.record.RequestBody = postData
		rl.commit(p.record)
	}()
}

// drain waits for in-flight body fetches, bounded by ctx. The session context
// is already cancelled by teardown, so the fetches abort quickly; the bound
// only guards against a wedged CDP connection.
func (rl *requestLog) drain(ctx context.Context) {
	idle := make(chan struct{})
	go func() {
		rl.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		rl.log.Warn("Abandoning in-flight response body fetches", zap.Error(ctx.Err()))
	}
}

func (rl *requestLog) handleFailed(id network.RequestID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	p, ok := rl.pending[id]
	if !ok {
		return
	}
	delete(rl.pending, id)
	rl.commitLocked(p.record)
}

func (rl *requestLog) commit(rec schemas.RequestRecord) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.commitLocked(rec)
}

func (rl *requestLog) commitLocked(rec schemas.RequestRecord) {
	if len(rec.ResponseBody) > maxCapturedBody {
		rec.ResponseBody = rec.ResponseBody[:maxCapturedBody]
	}
	if rl.size < len(rl.ring) {
		rl.ring[(rl.head+rl.size)%len(rl.ring)] = rec
		rl.size++
		return
	}
	rl.ring[rl.head] = rec
	rl.head = (rl.head + 1) % len(rl.ring)
}

// recent returns up to n of the most recent records, newest last.
func (rl *requestLog) recent(n int) []schemas.RequestRecord {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if n > rl.size || n <= 0 {
		n = rl.size
	}
	out := make([]schemas.RequestRecord, 0, n)
	for i := rl.size - n; i < rl.size; i++ {
		out = append(out, rl.ring[(rl.head+i)%len(rl.ring)])
	}
	return out
}

// decodeBody undoes a content encoding the browser did not already strip.
// CDP usually hands bodies back decoded; the magic-byte check keeps already
// plain bodies untouched, and a failed decode falls back to the raw bytes.
func decodeBody(body []byte, encoding string) []byte {
	if len(body) == 0 {
		return body
	}
	switch encoding {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body
		}
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer zr.Close()
		decoded, err := io.ReadAll(io.LimitReader(zr, maxCapturedBody))
		if err != nil {
			return body
		}
		return decoded
	case "br":
		decoded, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(body)), maxCapturedBody))
		if err != nil || len(decoded) == 0 {
			return body
		}
		return decoded
	}
	return body
}

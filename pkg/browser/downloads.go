package browser

import (
	"net/url"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/browser"
)

// downloadWaiter receives the download events of one tab for one entry
type downloadWaiter struct {
	entryID  string
	begin    chan *browser.EventDownloadWillBegin
	progress chan *browser.EventDownloadProgress
	done     chan *browser.EventDownloadProgress
}

func newDownloadWaiter(entryID string) *downloadWaiter {
	return &downloadWaiter{
		entryID:  entryID,
		begin:    make(chan *browser.EventDownloadWillBegin, 1),
		progress: make(chan *browser.EventDownloadProgress, 1),
		done:     make(chan *browser.EventDownloadProgress, 1),
	}
}

// wants reports whether ev belongs to the waiter's entry. The site names
// downloads after the photo ID, either in the URL or in the suggested file
// name, so a download for some other entry on the same tab is not taken.
func (w *downloadWaiter) wants(ev *browser.EventDownloadWillBegin) bool {
	if w.entryID == "" {
		return true
	}
	if strings.Contains(ev.SuggestedFilename, w.entryID) {
		return true
	}
	u := ev.URL
	if unescaped, err := url.QueryUnescape(u); err == nil {
		u = unescaped
	}
	return strings.Contains(u, w.entryID)
}

// downloadRouter hands browser-level download events to the tab waiting for them.
// Events for frames nobody waits on, or for another entry, are dropped.
type downloadRouter struct {
	mu      sync.Mutex
	byFrame map[string]*downloadWaiter
	byGUID  map[string]*downloadWaiter
}

func newDownloadRouter() *downloadRouter {
	return &downloadRouter{
		byFrame: make(map[string]*downloadWaiter),
		byGUID:  make(map[string]*downloadWaiter),
	}
}

// register starts collecting events for the download of entryID on frameID.
// The returned func stops it.
func (r *downloadRouter) register(frameID, entryID string) (*downloadWaiter, func()) {
	w := newDownloadWaiter(entryID)

	r.mu.Lock()
	r.byFrame[frameID] = w
	r.mu.Unlock()

	return w, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.byFrame[frameID] == w {
			delete(r.byFrame, frameID)
		}
		for guid, gw := range r.byGUID {
			if gw == w {
				delete(r.byGUID, guid)
			}
		}
	}
}

// handle is installed with chromedp.ListenBrowser and must not block
func (r *downloadRouter) handle(ev interface{}) {
	switch ev := ev.(type) {
	case *browser.EventDownloadWillBegin:
		// the site sometimes answers with an HTML page instead of the image
		if ev.SuggestedFilename == "downloads.html" {
			return
		}

		r.mu.Lock()
		w, ok := r.byFrame[ev.FrameID.String()]
		ok = ok && w.wants(ev)
		if ok {
			r.byGUID[ev.GUID] = w
		}
		r.mu.Unlock()
		if !ok {
			return
		}

		select {
		case w.begin <- ev:
		default:
		}

	case *browser.EventDownloadProgress:
		r.mu.Lock()
		w, ok := r.byGUID[ev.GUID]
		if ok && ev.State != browser.DownloadProgressStateInProgress {
			delete(r.byGUID, ev.GUID)
		}
		r.mu.Unlock()
		if !ok {
			return
		}

		target := w.progress
		if ev.State != browser.DownloadProgressStateInProgress {
			target = w.done
		}
		select {
		case target <- ev:
		default:
		}
	}
}

// pending returns the number of downloads that began and have not finished
func (r *downloadRouter) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byGUID)
}

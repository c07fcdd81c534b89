// Package browser drives a Chrome instance over the DevTools protocol to
// trigger image downloads the way a signed-in visitor would.
//
// A Session owns one browser process and a fixed pool of tabs. Callers
// borrow a tab with Acquire, navigate it to a photo page, read the ixid
// token the site stamps on its download links, click through to a download
// and finally move the completed file out of the session's temporary
// directory with SaveTransfer. Every tab must be handed back with Release.
//
// Chrome writes downloads as {GUID} files into a temporary directory under
// the download directory. Browser-level download events are routed back to
// the tab that caused them by frame ID.
package browser

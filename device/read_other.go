//go:build !linux

package device

// readLoop starts one blocking reader per source. Readers exit when the
// poller closes their files.
func readLoop(srcs []source, events chan<- taggedEvent, readErr chan<- error, stop <-chan struct{}) {
	if len(srcs) == 0 {
		select {
		case readErr <- ErrNoDevices:
		case <-stop:
		}
		return
	}
	for _, src := range srcs {
		go readInputEvents(src, events, readErr, stop)
	}
}

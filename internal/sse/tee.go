package sse

import "io"

// teeReader wraps a response body and invokes onByte for every chunk
// read, including bytes that belong to SSE keepalive comment lines the
// line scanner filters out before they ever reach application code.
// This is how the watchdog observes stream liveness without sharing
// mutable state with the SSE manager: the manager only holds an onByte
// observer, never a reference back to the watchdog.
type teeReader struct {
	r       io.ReadCloser
	onByte  func()
}

func newTeeReader(r io.ReadCloser, onByte func()) *teeReader {
	if onByte == nil {
		onByte = func() {}
	}
	return &teeReader{r: r, onByte: onByte}
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.onByte()
	}
	return n, err
}

func (t *teeReader) Close() error {
	return t.r.Close()
}

package writer

// PageWriter groups a byte stream into whole pages of a Store: bytes collect in
// the store's current page and the page is written once it is full. Nothing
// is written for a partial page until Flush pads it. PageWriter provides no
// concurrency guarantee.
type PageWriter struct {
	st  Store
	off int

	// hold state for Rewrite
	holding bool
	holdPos int64
	held    []byte
}

func NewPageWriter(st Store) *PageWriter {
	return &PageWriter{st: st, holdPos: -1}
}

// Write implements io.Writer. A failed page write leaves the PageWriter at the
// page that failed; the caller is expected to give up on the transaction.
func (w *PageWriter) Write(data []byte) (int, error) {
	written := 0
	for len(data) > 0 {
		page := w.st.Page()
		n := copy(page[w.off:], data)
		w.off += n
		written += n
		data = data[n:]
		if w.off == len(page) {
			w.off = 0
			if err := w.writePage(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (w *PageWriter) writePage() error {
	if w.holding && w.st.Pos() == w.holdPos {
		page := w.st.Page()
		if cap(w.held) < len(page) {
			w.held = make([]byte, len(page))
		}
		w.held = w.held[:len(page)]
		copy(w.held, page)
		w.holding = false
	}
	return w.st.WritePage()
}

// Offset is the number of bytes pending in the current page.
func (w *PageWriter) Offset() int {
	return w.off
}

// Pos is the file offset the next byte lands on.
func (w *PageWriter) Pos() int64 {
	return w.st.Pos() + int64(w.off)
}

// Flush zero-fills the tail of a partial page and writes it.
func (w *PageWriter) Flush() error {
	if w.off == 0 {
		return nil
	}
	clear(w.st.Page()[w.off:])
	w.off = 0
	return w.writePage()
}

// WriteZeroPage writes one page of zeros at the current page position, which
// must not hold pending bytes.
func (w *PageWriter) WriteZeroPage() error {
	clear(w.st.Page())
	return w.writePage()
}

// Hold keeps a copy of the current page as it is written, so that Rewrite can
// patch it later. The current position must be page aligned.
func (w *PageWriter) Hold() {
	w.holding = true
	w.holdPos = w.st.Pos()
}

// Rewrite patches the held page and writes it back in place, then returns to
// the page position it started from. Nothing is pending afterwards.
func (w *PageWriter) Rewrite(patch func(page []byte)) error {
	if w.holding || w.holdPos < 0 {
		return errNoHeldPage
	}
	back := w.st.Pos()
	if err := w.st.SeekPage(w.holdPos); err != nil {
		return err
	}
	page := w.st.Page()
	copy(page, w.held)
	patch(page)
	if err := w.st.WritePage(); err != nil {
		return err
	}
	w.holdPos = -1
	w.off = 0
	return w.st.SeekPage(back)
}

// Reset drops pending bytes and any held page, for use after SeekPage.
func (w *PageWriter) Reset() {
	w.off = 0
	w.holding = false
	w.holdPos = -1
}

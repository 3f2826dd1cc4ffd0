package grid

// GridHandle is an implicitly shared reference to a GridData. Share is
// cheap; GetForWrite copies the GridData when other handles reference it.
// The zero value is an empty handle. A handle must be Reset when no longer
// needed so the GridData can release its tree.
//
// A single GridHandle is not safe for concurrent use; give each goroutine
// its own handle via Share.
type GridHandle struct {
	data *GridData
}

// Adopt wraps a GridData previously detached with Release.
func Adopt(data *GridData) GridHandle {
	return GridHandle{data: data}
}

// Valid reports whether the handle references a grid.
func (h GridHandle) Valid() bool {
	return h.data != nil
}

// Share returns another handle to the same GridData.
func (h GridHandle) Share() GridHandle {
	if h.data != nil {
		h.data.addUser()
	}
	return h
}

// Get returns the GridData for reading, or nil for an empty handle.
func (h GridHandle) Get() *GridData {
	return h.data
}

// GetForWrite returns a GridData only this handle references, replacing the
// handle's GridData with a copy when it is shared.
func (h *GridHandle) GetForWrite() *GridData {
	if h.data == nil {
		return nil
	}
	if !h.data.IsMutable() {
		dup := h.data.Copy()
		h.data.removeUser()
		h.data = dup.data
	}
	h.data.ensured.Store(true)
	return h.data
}

// Release detaches the GridData from the handle and hands its reference to
// the caller, who must eventually pass it back through Adopt.
func (h *GridHandle) Release() *GridData {
	data := h.data
	h.data = nil
	return data
}

// Reset drops the handle's reference.
func (h *GridHandle) Reset() {
	if h.data != nil {
		h.data.removeUser()
		h.data = nil
	}
}

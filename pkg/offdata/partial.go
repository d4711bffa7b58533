package offdata

// partials holds per-item, engine-lifetime chunk accumulation for in-flight
// chunked transfers. A pause (cancellation between drain cycles) keeps the
// engine alive, so bytes fetched before the pause survive to be
// concatenated with the bytes fetched after resume. A process restart loses
// this buffer; runChunked reconciles the persisted byteOffset against the
// accumulated length before resuming, so a restarted transfer refetches
// from zero rather than completing with a short payload.
func (e *DownloadEngine) appendPartial(id string, chunk []byte) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	e.partials[id] = append(e.partials[id], chunk...)
}

func (e *DownloadEngine) takePartial(id string) []byte {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	data := e.partials[id]
	delete(e.partials, id)
	if data == nil {
		return []byte{}
	}
	return data
}

func (e *DownloadEngine) clearPartial(id string) {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	delete(e.partials, id)
}

func (e *DownloadEngine) partialLen(id string) int64 {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return int64(len(e.partials[id]))
}

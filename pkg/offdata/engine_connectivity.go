package offdata

import "context"

// StartMonitoring installs offline/online listeners on the configured
// Connectivity collaborator. A no-op if no Connectivity was supplied (a
// host with no online/offline signal at all).
func (e *DownloadEngine) StartMonitoring() {
	if e.connectivity == nil {
		return
	}
	e.connectivity.OnOffline(func() {
		e.pauseAllInFlight(e.currentCtx(), "network-offline")
		e.events.Emit(TopicConnectivity, ConnectivityPayload{Online: false})
	})
	e.connectivity.OnOnline(func() {
		e.events.Emit(TopicConnectivity, ConnectivityPayload{Online: true})
		e.w.notify()
	})
}

func (e *DownloadEngine) currentCtx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rootCtx != nil {
		return e.rootCtx
	}
	return context.Background()
}

package offdata

import (
	"context"

	"github.com/rbrundritt/offline-data-manager/pkg/logger"
)

// Manager is the library's single public entry point, wiring a Store,
// StorageProbe, Connectivity, Events emitter, SchemeRouter, RegistryManager
// and DownloadEngine together. A caller constructs one and drives it for
// the lifetime of the process.
type Manager struct {
	Store        Store
	Events       *Emitter
	Probe        StorageProbe
	Connectivity Connectivity
	Router       *SchemeRouter

	Registry *RegistryManager
	Engine   *DownloadEngine
}

// ManagerOptions configures New. Nil fields fall back to sensible defaults:
// an in-memory Store, a MemStorageProbe reporting ample space, a
// ManualConnectivity starting online, and a NopLogger.
type ManagerOptions struct {
	Store        Store
	Probe        StorageProbe
	Connectivity Connectivity
	Router       *SchemeRouter
	Config       Config
	Logger       logger.Logger
}

// New constructs a fully-wired Manager. Call Start to begin the
// connectivity hook and drain loop.
func New(opts ManagerOptions) *Manager {
	store := opts.Store
	if store == nil {
		store = NewMemStore()
	}
	probe := opts.Probe
	if probe == nil {
		probe = NewMemStorageProbe(0, 100*1024*1024*1024)
	}
	connectivity := opts.Connectivity
	if connectivity == nil {
		connectivity = NewManualConnectivity(true)
	}
	router := opts.Router
	if router == nil {
		router = NewSchemeRouter()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NopLogger{}
	}

	events := NewEmitter(l)
	registry := NewRegistryManager(store, events, probe)
	engine := NewDownloadEngine(store, events, probe, connectivity, router, registry, opts.Config, WithLogger(l))

	return &Manager{
		Store:        store,
		Events:       events,
		Probe:        probe,
		Connectivity: connectivity,
		Router:       router,
		Registry:     registry,
		Engine:       engine,
	}
}

// RegisterFile delegates to the RegistryManager.
func (m *Manager) RegisterFile(ctx context.Context, in FileRegistration) error {
	return m.Registry.RegisterFile(ctx, in)
}

// RegisterFiles delegates to the RegistryManager.
func (m *Manager) RegisterFiles(ctx context.Context, entries []FileRegistration) (RegisterFilesResult, error) {
	return m.Registry.RegisterFiles(ctx, entries)
}

// GetStatus delegates to the RegistryManager.
func (m *Manager) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	return m.Registry.GetStatus(ctx, id)
}

// GetAllStatus delegates to the RegistryManager.
func (m *Manager) GetAllStatus(ctx context.Context) ([]StatusView, *StorageSummary, error) {
	return m.Registry.GetAllStatus(ctx)
}

// IsReady delegates to the RegistryManager.
func (m *Manager) IsReady(ctx context.Context, id string) (bool, error) {
	return m.Registry.IsReady(ctx, id)
}

// Retrieve delegates to the RegistryManager.
func (m *Manager) Retrieve(ctx context.Context, id string) ([]byte, string, error) {
	return m.Registry.Retrieve(ctx, id)
}

// UpdateRegistryMetadata delegates to the RegistryManager.
func (m *Manager) UpdateRegistryMetadata(ctx context.Context, id string, patch map[string]any) error {
	return m.Registry.UpdateRegistryMetadata(ctx, id, patch)
}

// Start begins the drain loop and the connectivity hook.
func (m *Manager) Start(concurrency int) {
	m.Engine.StartMonitoring()
	m.Engine.Start(concurrency)
}

// Stop halts the drain loop.
func (m *Manager) Stop(ctx context.Context) {
	m.Engine.Stop(ctx)
}

// RetryFailed delegates to the DownloadEngine.
func (m *Manager) RetryFailed(ctx context.Context) error {
	return m.Engine.RetryFailed(ctx)
}

// AbortDownload delegates to the DownloadEngine.
func (m *Manager) AbortDownload(id string) {
	m.Engine.AbortDownload(id)
}

// AbortAllDownloads delegates to the DownloadEngine.
func (m *Manager) AbortAllDownloads() {
	m.Engine.AbortAllDownloads()
}

// DeleteFile delegates to the DownloadEngine.
func (m *Manager) DeleteFile(ctx context.Context, id string, removeProtected bool) error {
	return m.Engine.DeleteFile(ctx, id, removeProtected)
}

// DeleteAllFiles delegates to the DownloadEngine.
func (m *Manager) DeleteAllFiles(ctx context.Context, removeProtected bool) error {
	return m.Engine.DeleteAllFiles(ctx, removeProtected)
}

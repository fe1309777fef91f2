package tool

import "sync"

// ExecuteObservation captures one executor invocation outcome.
type ExecuteObservation struct {
	Tool       string
	Server     string
	Code       string
	Success    bool
	DurationMS int64
}

// DiscoveryObservation captures one per-server tool discovery.
type DiscoveryObservation struct {
	Server     string
	ToolCount  int
	CacheHit   bool
	DurationMS int64
}

// ConnectObservation captures one server connect attempt.
type ConnectObservation struct {
	Server     string
	Success    bool
	DurationMS int64
}

// Observer receives registry and executor observability events.
type Observer interface {
	ObserveExecute(observation ExecuteObservation)
	ObserveDiscovery(observation DiscoveryObservation)
	ObserveConnect(observation ConnectObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveExecute(ExecuteObservation)     {}
func (noopObserver) ObserveDiscovery(DiscoveryObservation) {}
func (noopObserver) ObserveConnect(ConnectObservation)     {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide observability observer. Passing nil
// restores the no-op observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func emitExecuteObservation(observation ExecuteObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveExecute(observation)
}

func emitDiscoveryObservation(observation DiscoveryObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveDiscovery(observation)
}

func emitConnectObservation(observation ConnectObservation) {
	observerMu.RLock()
	observer := activeObserver
	observerMu.RUnlock()
	observer.ObserveConnect(observation)
}

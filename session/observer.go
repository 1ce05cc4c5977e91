package session

// Observer is told about session events, typically to show progress.
// Methods are called from whichever goroutine caused the event and must
// not block.
type Observer interface {
	StateChanged(state State)
	Refreshing()
	Refreshed()
	RefreshFailed(err error)
	RequestRejected(method, path string)
	RequestReplayed(method, path string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StateChanged(State)             {}
func (NopObserver) Refreshing()                    {}
func (NopObserver) Refreshed()                     {}
func (NopObserver) RefreshFailed(error)            {}
func (NopObserver) RequestRejected(string, string) {}
func (NopObserver) RequestReplayed(string, string) {}

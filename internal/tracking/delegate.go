package tracking

// Delegate receives the notifications a player surface acts on. The
// processor keeps a non-owning reference; the host keeps it alive for the
// session's lifetime.
type Delegate interface {
	// WillShow is called once the creative has rendered.
	WillShow()
	// DidHide is called when the ad closes.
	DidHide()
	// NotifyClickThrough asks the host to open url.
	NotifyClickThrough(url string)
	// NotifyError reports a playback failure.
	NotifyError(err error)
}

// DelegateFuncs adapts optional functions to Delegate.
type DelegateFuncs struct {
	OnWillShow     func()
	OnDidHide      func()
	OnClickThrough func(url string)
	OnError        func(err error)
}

func (d DelegateFuncs) WillShow() {
	if d.OnWillShow != nil {
		d.OnWillShow()
	}
}

func (d DelegateFuncs) DidHide() {
	if d.OnDidHide != nil {
		d.OnDidHide()
	}
}

func (d DelegateFuncs) NotifyClickThrough(url string) {
	if d.OnClickThrough != nil {
		d.OnClickThrough(url)
	}
}

func (d DelegateFuncs) NotifyError(err error) {
	if d.OnError != nil {
		d.OnError(err)
	}
}

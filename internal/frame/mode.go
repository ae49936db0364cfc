package frame

// Mode is how the host is currently able to observe the embedded site.
//
//	Unknown -> DirectAccessOk | Injected | ProxyFallback | Blocked
//	Blocked -> ProxyFallback (participant retry)
type Mode int

const (
	ModeUnknown Mode = iota
	// DirectAccessOk: the frame is same-origin and its location is readable.
	ModeDirectAccessOk
	// Injected: the observer bridge runs inside the frame and relays events.
	ModeInjected
	// ProxyFallback: the frame shows the site through the rewriting proxy.
	ModeProxyFallback
	// Blocked: the site refused to be embedded; recovery is offered.
	ModeBlocked
)

func (m Mode) String() string {
	switch m {
	case ModeDirectAccessOk:
		return "direct"
	case ModeInjected:
		return "injected"
	case ModeProxyFallback:
		return "proxy"
	case ModeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// AccessResult is the host page's report after probing the frame document.
type AccessResult string

const (
	AccessDirect   AccessResult = "direct"
	AccessInjected AccessResult = "injected"
	AccessDenied   AccessResult = "denied"
)

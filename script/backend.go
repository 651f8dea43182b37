package script

// Backend selects which managed-script runtime a Script is nominally
// bound to: a name plus a synchronous-creation identity, reduced here
// to just the name since script execution itself stays out of scope.
// Backend exists only so Script.Info().BackendName reports a stable
// identity and so a host can select between runtime flavors without the
// rest of this package caring which one is in play.
type Backend interface {
	// Name reports the backend's identity, e.g. "duktape" or "v8".
	Name() string
}

// DuktapeBackend selects the duktape-flavored backend identity.
type DuktapeBackend struct{}

func (DuktapeBackend) Name() string { return "duktape" }

// V8Backend selects the V8-flavored backend identity.
type V8Backend struct{}

func (V8Backend) Name() string { return "v8" }

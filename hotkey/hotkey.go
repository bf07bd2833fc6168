package hotkey

// Hotkey reports press and release of the configured trigger key.
// Implementations must swallow OS auto-repeat: one Keydown per physical
// press, one Keyup per release.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

package market

import "github.com/team3d/merchantchain/core"

// entryGuard is a held/not-held flag wrapped around every marketplace
// entry point. The executor is serial, but collaborators invoked
// mid-operation (token ledger, catalog, publisher directory) could in
// principle call back into the marketplace before its bookkeeping is
// done; the flag makes such a second entry fail instead of interleaving.
type entryGuard struct {
	held bool
}

func (g *entryGuard) enter() error {
	if g.held {
		return core.ErrReentrant
	}
	g.held = true
	return nil
}

func (g *entryGuard) exit() {
	g.held = false
}

// guard protects the single marketplace instance of this process.
// Every handler must release it on all exit paths: enter, defer exit.
var guard = &entryGuard{}

package market

import (
	"errors"
	"testing"

	"github.com/team3d/merchantchain/core"
)

// TestEntryGuard verifies the held flag blocks nested entry and clears on
// exit.
func TestEntryGuard(t *testing.T) {
	g := &entryGuard{}
	if err := g.enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := g.enter(); !errors.Is(err, core.ErrReentrant) {
		t.Errorf("nested enter: got %v want ErrReentrant", err)
	}
	g.exit()
	if err := g.enter(); err != nil {
		t.Errorf("enter after exit: %v", err)
	}
	g.exit()
}

package gateway

import (
	"testing"

	"github.com/openindexlabs/ledgerdex/client"
)

func TestNewLedgerGatewayAppliesFloors(t *testing.T) {
	cl := client.New("http://localhost:1984")

	g := NewLedgerGateway(cl, LedgerOptions{})
	if g.pageSize != 100 {
		t.Errorf("page size floor: %d", g.pageSize)
	}
	if g.maxPerCycle != 500 {
		t.Errorf("per-cycle cap floor: %d", g.maxPerCycle)
	}

	// explicit values survive
	g = NewLedgerGateway(cl, LedgerOptions{PageSize: 25, MaxPerCycle: 50})
	if g.pageSize != 25 || g.maxPerCycle != 50 {
		t.Errorf("explicit options overridden: %d %d", g.pageSize, g.maxPerCycle)
	}
}

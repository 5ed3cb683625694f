package payment

import (
	"context"
	"sync"

	"github.com/mbd888/riskgate/internal/idgen"
)

// SandboxGateway approves every charge and deduplicates by idempotency key,
// the way a real gateway would. It backs local runs without a Stripe key.
type SandboxGateway struct {
	mu      sync.Mutex
	charges map[string]Charge
}

// NewSandboxGateway creates a sandbox gateway.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{charges: make(map[string]Charge)}
}

func (g *SandboxGateway) Charge(_ context.Context, idempotencyKey string, _ Request) (Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.charges[idempotencyKey]; ok {
		return c, nil
	}
	c := Charge{
		TransactionID: "txn_" + idgen.Hex(12),
		ReceiptRef:    "rcpt_" + idgen.Hex(8),
	}
	g.charges[idempotencyKey] = c
	return c, nil
}

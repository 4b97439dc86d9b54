package system

import (
	core "github.com/R3E-Network/proofwork/internal/app/core/service"
	"testing"
)

type mockProvider struct{ desc core.Descriptor }

func (m mockProvider) Descriptor() core.Descriptor { return m.desc }

func TestCollectDescriptors(t *testing.T) {
	providers := []DescriptorProvider{
		mockProvider{desc: core.Descriptor{Name: "payout-processor", Layer: core.LayerEngine}},
		mockProvider{desc: core.Descriptor{Name: "httpapi", Layer: core.LayerIngress}},
		mockProvider{desc: core.Descriptor{Name: "verification-processor", Layer: core.LayerEngine}},
		nil,
	}

	descr := CollectDescriptors(providers)

	if len(descr) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descr))
	}
	// Sorted by layer first (engine < ingress), then name within a layer.
	if descr[0].Name != "payout-processor" || descr[1].Name != "verification-processor" || descr[2].Name != "httpapi" {
		t.Fatalf("unexpected order: %#v", descr)
	}
}

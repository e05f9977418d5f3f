package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferRoundTripsThroughDecoder(t *testing.T) {
	p := Policy{
		Permissions: []Rule{{
			Action: "use",
			Constraints: []Constraint{
				{LeftOperand: "BusinessPartnerNumber", Operator: "eq", RightOperand: "BPNL000"},
			},
		}},
		Prohibitions: []Rule{{Action: "distribute"}},
	}

	data, err := MarshalOffer("offer-1", "provider", "asset-1", p)
	require.NoError(t, err)

	decoded, err := DecodePolicy(data)
	require.NoError(t, err)
	assert.True(t, p.Equivalent(decoded), "decoded %+v", decoded)
}

func TestDecodePolicy_Malformed(t *testing.T) {
	_, err := DecodePolicy([]byte(`[`))
	assert.Error(t, err)
}

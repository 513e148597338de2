package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookups(t *testing.T) {
	reg, err := NewRegistry(
		[]EconomicProfile{{
			ID:                "mining",
			CategoryModifiers: map[string]float64{"minerals": 0.8},
			Production:        map[string]float64{"minerals": 2},
		}},
		[]FactionProfile{{
			FactionID:       "union",
			BuyPriceFactor:  1.1,
			SellPriceFactor: 0.9,
			TaxRate:         0.05,
			Services:        []string{"refuel"},
		}},
	)
	require.NoError(t, err)

	econ := reg.EconProfile("mining")
	assert.Equal(t, 0.8, econ.Modifier("minerals"))
	assert.Equal(t, 1.0, econ.Modifier("food"))
	assert.Equal(t, 2.0, econ.ProductionRate("minerals"))
	assert.Zero(t, econ.ConsumptionRate("minerals"))

	fac := reg.FactionProfile("union")
	assert.Equal(t, 0.05, fac.TaxRate)
	assert.True(t, fac.Offers("refuel"))
	assert.False(t, fac.Offers("shipyard"))
}

func TestRegistryMissingFallsBackToNeutral(t *testing.T) {
	reg, err := NewRegistry(nil, nil)
	require.NoError(t, err)

	econ := reg.EconProfile("nowhere")
	assert.Equal(t, NeutralEconProfile.ID, econ.ID)
	assert.Equal(t, 1.0, econ.Modifier("anything"))

	fac := reg.FactionProfile("pirates")
	assert.Equal(t, 1.0, fac.BuyPriceFactor)
	assert.Equal(t, 1.0, fac.SellPriceFactor)
	assert.Zero(t, fac.TaxRate)
	assert.Zero(t, fac.IllegalTolerance)

	var nilReg *Registry
	assert.Equal(t, 1.0, nilReg.FactionProfile("x").BuyPriceFactor)
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry([]EconomicProfile{{ID: "a"}, {ID: "a"}}, nil)
	assert.Error(t, err)

	_, err = NewRegistry(nil, []FactionProfile{{FactionID: "f", BuyPriceFactor: 1, SellPriceFactor: 1, IllegalTolerance: 2}})
	assert.Error(t, err)

	_, err = NewRegistry(nil, []FactionProfile{{FactionID: "f", BuyPriceFactor: 0, SellPriceFactor: 1}})
	assert.Error(t, err)

	_, err = NewRegistry([]EconomicProfile{{ID: "a", CategoryModifiers: map[string]float64{"x": 0}}}, nil)
	assert.Error(t, err)
}

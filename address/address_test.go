package address_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.holon.dev/runtime/address"
)

func TestServiceAddressRoundTrip(t *testing.T) {
	a := address.NewServiceAddress("orders", "order.created")
	assert.Equal(t, "orders:order.created", a.String())

	parsed, err := address.ParseServiceAddress(a.String())
	assert.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestServiceAddressParseErrors(t *testing.T) {
	cases := []string{"", "no-separator", ":missing-namespace"}
	for _, c := range cases {
		_, err := address.ParseServiceAddress(c)
		assert.Error(t, err, c)
	}
}

func TestEventAddressRoundTrip(t *testing.T) {
	a := address.NewEventAddress("domain", "user.created")
	parsed, err := address.ParseEventAddress(a.String())
	assert.NoError(t, err)
	assert.Equal(t, a, parsed)
}

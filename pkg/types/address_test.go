package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddressValidate(t *testing.T) {
	valid := Address{Line1: "12 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "in"}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, "IN", valid.CountryCode())

	missingCity := valid
	missingCity.City = " "
	assert.Error(t, missingCity.Validate())

	badCountry := valid
	badCountry.Country = "IND"
	assert.Error(t, badCountry.Validate())
}

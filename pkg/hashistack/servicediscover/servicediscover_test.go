package servicediscover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRegistration(t *testing.T) {
	reg := NewRegistration("vaultkey", "vaultkey-host-8080", "10.0.0.5", 8080, "production")

	require.Equal(t, "vaultkey-host-8080", reg.ID)
	require.Equal(t, 8080, reg.Port)
	require.Equal(t, []string{"production"}, reg.Tags)
	require.Equal(t, "http://10.0.0.5:8080/readyz", reg.Check.HTTP)
}

func TestNewConsulRegistryKeepsServiceID(t *testing.T) {
	r, err := NewConsulRegistry("127.0.0.1:8500", NewRegistration("vaultkey", "id-1", "localhost", 8080))
	require.NoError(t, err)
	require.Equal(t, "id-1", r.serviceID)
}

package servicediscover

import (
	"testing"

	"medilicense/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func TestNewRegistryDisabled(t *testing.T) {
	reg, err := NewRegistry(&config.Config{})
	require.NoError(t, err)
	require.Nil(t, reg)

	// nil registry adds no hooks
	lc := fxtest.NewLifecycle(t)
	registerConsul(lc, nil)
	lc.RequireStart().RequireStop()
}

func TestNewRegistry(t *testing.T) {
	cfg := &config.Config{AppName: "medilicense"}
	cfg.Server.Addr = "8080"
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Consul.Host = "10.0.0.5"

	reg, err := NewRegistry(cfg)
	require.NoError(t, err)

	consul, ok := reg.(*ConsulRegistry)
	require.True(t, ok)
	require.Equal(t, "medilicense-10.0.0.5-8080", consul.serviceID)
	require.Equal(t, 8080, consul.service.Port)
	require.Equal(t, "http://10.0.0.5:8080/health/readiness", consul.service.Check.HTTP)
}

package zones

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbusmcp/opctl/pkg/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier("203.0.113.0/24,10.99.0.0/16")

	tests := []struct {
		ip   string
		zone models.AccessZone
	}{
		{"127.0.0.1", models.ZoneLocalhost},
		{"localhost", models.ZoneLocalhost},
		{"::1", models.ZoneLocalhost},
		{"100.64.1.2", models.ZoneTrustedMesh},
		{"fd00::1", models.ZoneTrustedMesh},
		{"203.0.113.5", models.ZoneTrustedMesh},  // configured CIDR
		{"10.99.1.1", models.ZoneTrustedMesh},    // configured CIDR overrides RFC1918 default
		{"10.0.0.5", models.ZonePrivateNetwork},  // RFC1918, not in configured trust
		{"172.16.0.5", models.ZonePrivateNetwork},
		{"192.168.1.5", models.ZonePrivateNetwork},
		{"fe80::1", models.ZonePrivateNetwork},
		{"8.8.8.8", models.ZonePublic},
		{"2001:4860::1", models.ZonePublic},
	}

	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			require.Equal(t, tc.zone, c.Classify(tc.ip))
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	c := NewClassifier("")
	a := c.Classify("8.8.8.8")
	b := c.Classify("8.8.8.8")
	require.Equal(t, a, b)
}

func TestCanAccessMatrix(t *testing.T) {
	tests := []struct {
		zone  models.AccessZone
		level models.SecurityLevel
		want  bool
	}{
		{models.ZoneLocalhost, models.LevelRestricted, true},
		{models.ZoneTrustedMesh, models.LevelRestricted, true},
		{models.ZonePrivateNetwork, models.LevelRestricted, false},
		{models.ZonePrivateNetwork, models.LevelElevated, true},
		{models.ZonePublic, models.LevelElevated, false},
		{models.ZonePublic, models.LevelStandard, true},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, CanAccess(tc.zone, tc.level))
	}
}

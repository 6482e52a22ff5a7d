package dbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKebabPascalRoundTrip(t *testing.T) {
	cases := []string{
		"network-bridge",
		"firewall",
		"dns-resolver",
		"user-account-manager",
		"a",
		"a-b-c-d-e",
	}
	for _, kebab := range cases {
		pascal := KebabToPascal(kebab)
		got := PascalToKebab(pascal)
		assert.Equal(t, kebab, got, "round trip for %q via %q", kebab, pascal)
	}
}

func TestKebabToPascal(t *testing.T) {
	assert.Equal(t, "NetworkBridge", KebabToPascal("network-bridge"))
	assert.Equal(t, "Dns", KebabToPascal("dns"))
	assert.Equal(t, "UserAccountManager", KebabToPascal("user-account-manager"))
}

func TestPascalToKebab(t *testing.T) {
	assert.Equal(t, "network-bridge", PascalToKebab("NetworkBridge"))
	assert.Equal(t, "dns", PascalToKebab("Dns"))
}

func TestObjectPathAndServiceName(t *testing.T) {
	assert.Equal(t, "/org/dbusmcp/Agent/NetworkBridge", ObjectPath("network-bridge"))
	assert.Equal(t, "org.dbusmcp.Agent.NetworkBridge", ServiceName("network-bridge"))
}

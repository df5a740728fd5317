package mqtt

import "github.com/google/uuid"

// instanceNamespace scopes device identifiers derived by [InstanceID].
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/nugget/jarvis"))

// InstanceID derives the Home Assistant device identifier from the
// configured device name. The result is a UUIDv5, so the same name
// always maps to the same device and nothing needs to be persisted.
func InstanceID(deviceName string) string {
	return uuid.NewSHA1(instanceNamespace, []byte(deviceName)).String()
}

package redis

import "fmt"

const (
	// KeyPrefixInstance is the prefix for per-instance state keys
	KeyPrefixInstance = "ephyr:instance:"
	// KeyAllInstances is the key for the set of all mirrored addresses
	KeyAllInstances = "ephyr:instances:all"
	// ChannelDiffs is the pub/sub channel diffs are published on
	ChannelDiffs = "ephyr:diffs"
)

// InstanceKey returns the Redis key for an instance state by address
func InstanceKey(addr string) string {
	return KeyPrefixInstance + addr
}

// AllInstancesKey returns the key for the set of all mirrored addresses
func AllInstancesKey() string {
	return KeyAllInstances
}

// ExtractAddress extracts the instance address from a Redis key
func ExtractAddress(key string) (string, error) {
	if len(key) <= len(KeyPrefixInstance) || key[:len(KeyPrefixInstance)] != KeyPrefixInstance {
		return "", fmt.Errorf("invalid instance key: %s", key)
	}
	return key[len(KeyPrefixInstance):], nil
}

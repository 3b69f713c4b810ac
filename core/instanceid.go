package core

import (
	"fmt"
	"regexp"
	"strings"
)

// Instance ids are embedded in compound keys, so colons are reserved as the
// key separator and replaced when deriving ids from IPv6 hosts.
var _instanceIDRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// GenerateInstanceID derives the deterministic identity of a client instance
// from its type, host and port.
func GenerateInstanceID(t ClientType, host string, port int) string {
	host = strings.ReplaceAll(host, ":", "_")
	return fmt.Sprintf("%s-%s-%d", t, host, port)
}

// ValidateInstanceID checks that id is non-empty and uses only letters,
// digits, '.', '_' and '-'.
func ValidateInstanceID(id string) error {
	if id == "" {
		return fmt.Errorf("instance id is empty")
	}
	if !_instanceIDRegexp.MatchString(id) {
		return fmt.Errorf("instance id %q contains invalid characters", id)
	}
	return nil
}

// NewCompoundKey builds the durable cross-instance identity for an item.
// All cross-instance references (ownership, move operations, move progress
// overlay) key by this compound, never by bare hash.
func NewCompoundKey(instanceID, hash string) string {
	return instanceID + ":" + strings.ToLower(hash)
}

// SplitCompoundKey splits a compound key into instance id and hash.
func SplitCompoundKey(key string) (instanceID, hash string, err error) {
	i := strings.IndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("malformed compound key %q", key)
	}
	return key[:i], key[i+1:], nil
}

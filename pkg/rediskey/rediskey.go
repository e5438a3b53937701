package rediskey

import "fmt"

const (
	CapabilityPrefix = "credential:capability"
	LedgerLockPrefix = "ledger:confirm"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildCapabilityKey returns "credential:capability:{jti}"
func BuildCapabilityKey(jti string) string {
	return NamespaceKey(CapabilityPrefix, jti)
}

// BuildLedgerConfirmKey returns "ledger:confirm:{txHash}"
func BuildLedgerConfirmKey(txHash string) string {
	return NamespaceKey(LedgerLockPrefix, txHash)
}

package security

import "fmt"

// Method names a host call that sandboxed code can issue.
type Method uint8

// Capability methods exposed under the plugin's api table.
const (
	MethodDataRead Method = iota + 1
	MethodDataWrite
	MethodDataDelete
	MethodUIShowNotification
	MethodUIShowModal
	MethodUIRegisterComponent
	MethodUIRegisterPage
	MethodHTTPFetch
	MethodUtilsGenerateID
	MethodUtilsHash
	MethodUtilsEncrypt
	MethodUtilsDecrypt

	// Hook context methods; always ungated.
	MethodStorageGet
	MethodStorageSet
	MethodStorageRemove
	MethodStorageClear
	MethodStorageKeys
	MethodStorageHas
	MethodStorageSize
	MethodEventsOn
	MethodEventsOff
	MethodEventsEmit
	MethodEventsOnce
	MethodLoggerLog
	MethodLoggerInfo
	MethodLoggerWarn
	MethodLoggerError
	MethodLoggerDebug

	methodLimit
)

var methodNames = [methodLimit]string{
	MethodDataRead:            "data.read",
	MethodDataWrite:           "data.write",
	MethodDataDelete:          "data.delete",
	MethodUIShowNotification:  "ui.showNotification",
	MethodUIShowModal:         "ui.showModal",
	MethodUIRegisterComponent: "ui.registerComponent",
	MethodUIRegisterPage:      "ui.registerPage",
	MethodHTTPFetch:           "http.fetch",
	MethodUtilsGenerateID:     "utils.generateId",
	MethodUtilsHash:           "utils.hash",
	MethodUtilsEncrypt:        "utils.encrypt",
	MethodUtilsDecrypt:        "utils.decrypt",
	MethodStorageGet:          "storage.get",
	MethodStorageSet:          "storage.set",
	MethodStorageRemove:       "storage.remove",
	MethodStorageClear:        "storage.clear",
	MethodStorageKeys:         "storage.keys",
	MethodStorageHas:          "storage.has",
	MethodStorageSize:         "storage.size",
	MethodEventsOn:            "events.on",
	MethodEventsOff:           "events.off",
	MethodEventsEmit:          "events.emit",
	MethodEventsOnce:          "events.once",
	MethodLoggerLog:           "logger.log",
	MethodLoggerInfo:          "logger.info",
	MethodLoggerWarn:          "logger.warn",
	MethodLoggerError:         "logger.error",
	MethodLoggerDebug:         "logger.debug",
}

// AllMethods returns every method in declaration order.
func AllMethods() []Method {
	out := make([]Method, 0, methodLimit-1)
	for m := MethodDataRead; m < methodLimit; m++ {
		out = append(out, m)
	}
	return out
}

// Valid reports whether m is a declared method.
func (m Method) Valid() bool {
	return m >= MethodDataRead && m < methodLimit
}

// String returns the dotted wire name, e.g. "data.read".
func (m Method) String() string {
	if !m.Valid() {
		return fmt.Sprintf("method(%d)", uint8(m))
	}
	return methodNames[m]
}

// ParseMethod parses a dotted wire name.
func ParseMethod(s string) (Method, error) {
	for m := MethodDataRead; m < methodLimit; m++ {
		if methodNames[m] == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown method %q", s)
}

// Capability reports whether m belongs to the api table rather than the
// hook context.
func (m Method) Capability() bool {
	return m >= MethodDataRead && m <= MethodUtilsDecrypt
}

// Permission returns the permission gating m. The second result is false
// for ungated methods.
func (m Method) Permission() (Permission, bool) {
	switch m {
	case MethodDataRead:
		return PermReadData, true
	case MethodDataWrite, MethodDataDelete:
		return PermWriteData, true
	case MethodUIShowNotification:
		return PermNotifications, true
	case MethodUIShowModal, MethodUIRegisterComponent, MethodUIRegisterPage:
		return PermModifyUI, true
	case MethodHTTPFetch:
		return PermNetworkAccess, true
	case MethodUtilsGenerateID, MethodUtilsHash, MethodUtilsEncrypt, MethodUtilsDecrypt:
		return 0, false
	case MethodStorageGet, MethodStorageSet, MethodStorageRemove, MethodStorageClear,
		MethodStorageKeys, MethodStorageHas, MethodStorageSize:
		return 0, false
	case MethodEventsOn, MethodEventsOff, MethodEventsEmit, MethodEventsOnce:
		return 0, false
	case MethodLoggerLog, MethodLoggerInfo, MethodLoggerWarn, MethodLoggerError, MethodLoggerDebug:
		return 0, false
	}
	panic(fmt.Sprintf("security: no permission decision for %s", m))
}

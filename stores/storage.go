package stores

import (
	"chat-server/core"
	"chat-server/stores/memory"
	"chat-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore picks the storage backend. Unknown types fall back to the
// in-memory store, which is transient and intended for development.
func GetStore(storageType, dataSourceName string) core.Store {
	var store core.Store

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "sqlite":
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewChatStore(dataSourceName)
	default:
		store = memory.NewChatStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}

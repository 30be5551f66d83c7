package integration

// Topics published on the EventBus.
const (
	TopicStarted = "integration.started"
	TopicStopped = "integration.stopped"

	TopicFolderAdded   = "workspace.folder.added"
	TopicFolderRemoved = "workspace.folder.removed"

	TopicRepositoryOpened  = "scm.repository.opened"
	TopicRepositoryClosed  = "scm.repository.closed"
	TopicRepositoryChanged = "scm.repository.changed"
	TopicResourcesChanged  = "scm.resources.changed"
	TopicResourceChanged   = "scm.resource.changed"
	TopicOriginalChanged   = "scm.original.changed"
	TopicOperationStarted  = "scm.operation.started"
	TopicOperationFinished = "scm.operation.finished"
)

// Payload keys.
const (
	KeyRoot        = "root"
	KeyURI         = "uri"
	KeyOperation   = "operation"
	KeyError       = "error"
	KeyCount       = "count"
	KeyDidHitLimit = "didHitLimit"
	KeyPath        = "path"
	KeyTimestamp   = "timestamp"
	KeyProgress    = "progress"
	KeyIdle        = "idle"
)

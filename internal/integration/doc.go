// Package integration connects the cvs engine to its surroundings.
//
// The Manager owns one cvs.Client, the scm.Registry of open working
// copies, a scm.ChangeNotifier and, optionally, a file system watcher:
//
//	workspace roots ──scan──▶ Registry ──▶ Repository ──▶ cvs.Repository ──▶ process.Runner
//	       ▲                     │              │
//	   watcher events ───────────┘              └── resources / operations
//	                                                      │
//	                                                  EventBus
//
// File system events are routed by path. Creating a CVS directory directly
// under a workspace root opens that root; any other change marks the
// owning repository as changed, which the notifier turns into a debounced
// status refresh.
//
// # Event Publishing
//
// Engine events are published on an EventPublisher, normally an EventBus,
// under the topics in topics.go:
//
//   - integration.started, integration.stopped
//   - workspace.folder.added, workspace.folder.removed
//   - scm.repository.opened, scm.repository.closed, scm.repository.changed
//   - scm.resources.changed
//   - scm.operation.started, scm.operation.finished
//
// Every payload carries a millisecond "timestamp".
//
// # Usage
//
//	mgr, err := integration.NewManager(ctx, integration.ManagerConfig{
//	    Client:    client,
//	    Workspace: ws,
//	    EventBus:  integration.NewEventBus(),
//	    Watcher:   w,
//	})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	go mgr.Watch(ctx)
//	err = mgr.Refresh(ctx)
package integration

// Package activity dispatches activity-log entries off the request path.
//
// Chat operations record what a user did (for example, creating a message)
// without waiting on the write:
//
//	d := activity.NewDispatcher(store, 256, 5*time.Second, logger)
//	defer d.Close(ctx)
//
//	d.Record(&store.ActivityEntry{
//	    UserID:     senderID,
//	    EntityType: store.EntityMessage,
//	    EntityID:   msg.ID,
//	    Action:     store.ActionCreate,
//	})
//
// A full queue drops the entry; sink errors are logged at Warn. Neither is
// ever returned to the caller.
package activity

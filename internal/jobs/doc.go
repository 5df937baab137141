// Package jobs runs documentation jobs in the background and reports
// their status.
//
// A Manager owns one pipeline configuration. Submit creates a pending job
// and returns its ID at once; the pipeline's updates flow into a Store
// that polling clients read through Status. Only one job per repository
// runs at a time:
//
//	id, err := m.Submit(ctx, "my-repo", files)
//	if errors.Is(err, jobs.ErrAlreadyRunning) {
//	    // wait for the running job instead
//	}
//	job, err := m.Wait(ctx, id)
//	tree, err := m.Tree(ctx, id)
//
// MemoryStore keeps everything in process. storage.SQLiteStorage is the
// persistent Store.
package jobs

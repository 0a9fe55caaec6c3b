// Package session ties the worker lifecycle to playback for one user.
//
// A Session starts runs on fresh workers, drops responses from runs that
// were superseded, and loads finished traces into its playback controller.
//
// Status Machine:
//   - idle → loading on Start
//   - loading → ready or error when the worker replies
//   - ready ↔ playing while the controller auto-plays
//   - any → idle on Terminate or a new Start
//
// Components:
//   - Session: run lifecycle, playback and change notifications
//   - Manager: session registry with an idle reaper and a size cap
//
// Example Usage:
//
//	mgr := session.NewManager(session.ManagerConfig{IdleTTL: 30 * time.Minute}, opts)
//	s, _ := mgr.Create()
//	result, err := s.Run(ctx, "x = 1\nprint(x)")
//	snap, err := s.Forward()
package session

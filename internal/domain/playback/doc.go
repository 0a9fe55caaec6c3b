// Package playback scrubs through a recorded trace like a video.
//
// A Controller owns the cursor and the playing flag for one frame sequence.
// Step operations clamp at both ends, Play advances one frame per cadence
// (700ms by default) and stops by itself on the last frame, and Reset, Pause
// and Load always stop and join the ticker before returning.
package playback

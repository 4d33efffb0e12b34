// Package sidecar supervises an out-of-process detector.
//
// Object detection runs in a separate binary that reads the camera and
// publishes per-frame detections over MQTT. The Supervisor here starts
// that binary in its own process group, logs its output line by line,
// restarts it with exponential backoff when it dies and shuts it down
// with SIGTERM followed by SIGKILL.
//
//	sc := sidecar.New(sidecar.ConfigFromConfig(cfg.Sidecar))
//	sc.SetLogger(log)
//	if err := sc.Start(ctx); err != nil {
//	    return err
//	}
//	defer sc.Stop()
package sidecar

// Package signalwatch runs the copy engine's stall-detection and
// interrupt-handling goroutine: a dedicated listener that owns SIGINT and
// SIGUSR2 for the worker pool, polls the shared pack-id counter on a timer
// to detect a wedged copy, and tells the scheduler to stop on interrupt.
package signalwatch

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sgcopy/sgcopy/internal/constants"
	"github.com/sgcopy/sgcopy/internal/logging"
	"github.com/sgcopy/sgcopy/internal/scheduler"
	"github.com/sgcopy/sgcopy/internal/uapi"
)

// Watcher is one job's signal-listening thread.
type Watcher struct {
	State *scheduler.State
	Log   *logging.Logger

	// MonitoredFd is an open sg fd to probe with SG_GET_NUM_WAITING on
	// every stall check, or -1 to skip that probe (set when neither side
	// is sg).
	MonitoredFd int

	sigCh chan os.Signal
	done  chan struct{}
}

// New creates a Watcher for state. monitoredFd is the sg fd (read or
// write side, whichever is sg) the stall probe should query; pass -1 if
// neither side is sg.
func New(state *scheduler.State, monitoredFd int) *Watcher {
	return &Watcher{
		State:       state,
		MonitoredFd: monitoredFd,
		sigCh:       make(chan os.Signal, 2),
		done:        make(chan struct{}),
	}
}

func (w *Watcher) log() *logging.Logger {
	if w.Log != nil {
		return w.Log
	}
	return logging.Default()
}

// Stop tells Run to exit; it is the Go equivalent of sending the listener
// thread SIGUSR2 in the original, without actually sending a signal to the
// whole process.
func (w *Watcher) Stop() {
	close(w.done)
}

// Run blocks until SIGINT arrives, Stop is called, or the job has shut
// down. On SIGINT it marks the job stopped and shutting down, then
// re-raises SIGINT against the process after un-registering its own
// handler, so a second Ctrl-C (or the shell) observes the normal default
// disposition instead of this goroutine swallowing it forever.
func (w *Watcher) Run() {
	signal.Notify(w.sigCh, syscall.SIGINT, syscall.SIGUSR2)
	defer signal.Stop(w.sigCh)

	ict := w.State.Config.StallInitialCheck
	if ict <= 0 {
		ict = constants.DefaultStallInitialCheck
	}
	crt := w.State.Config.StallCheckRepeat
	if crt <= 0 {
		crt = constants.DefaultStallCheckRepeat
	}

	timer := time.NewTimer(ict)
	defer timer.Stop()

	var prevPackID int32
	stallReported := false

	for {
		select {
		case <-w.done:
			return

		case sig := <-w.sigCh:
			switch sig {
			case syscall.SIGINT:
				w.log().Warn("interrupted by SIGINT")
				w.State.Stop()
				w.State.ShutDown()
				signal.Stop(w.sigCh)
				_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
				return
			case syscall.SIGUSR2:
				w.log().Debug("SIGUSR2 received, stall watcher exiting")
				return
			}

		case <-timer.C:
			if w.State.ShuttingDown() {
				return
			}
			prevPackID, stallReported = w.checkStall(prevPackID, stallReported)
			if stallReported {
				timer.Reset(crt)
			} else {
				timer.Reset(ict)
			}
		}
	}
}

// checkStall compares the most recently recorded pack-id against the value
// observed on the previous tick. Two consecutive ticks with no movement
// are reported as a stall (the first report switches the watcher onto the
// longer check-repeat interval; later reports repeat at that interval).
func (w *Watcher) checkStall(prevPackID int32, stallReported bool) (int32, bool) {
	packID := w.State.MostRecentPackID()
	if packID != 0 && packID == prevPackID {
		if !stallReported {
			w.log().Warn("first stall detected", "pack_id", packID)
		} else {
			w.log().Warn("subsequent stall detected", "pack_id", packID)
		}
		w.probeNumWaiting()
		return packID, true
	}
	return packID, false
}

// probeNumWaiting issues SG_GET_NUM_WAITING against the monitored fd and
// logs the result, mirroring the original's debug snapshot on a detected
// stall (minus the /proc/scsi/sg/debug dump, which has no portable
// equivalent to surface through this engine).
func (w *Watcher) probeNumWaiting() {
	if w.MonitoredFd < 0 {
		return
	}
	n, err := unix.IoctlGetInt(w.MonitoredFd, uapi.SG_GET_NUM_WAITING)
	if err != nil {
		w.log().WithError(err).Debug("SG_GET_NUM_WAITING probe failed")
		return
	}
	w.log().Warn("sg driver reports commands waiting", "num_waiting", n)
}

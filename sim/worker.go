package sim

import "sync"

// stepWorker runs physics steps on a dedicated goroutine. At most one
// request is outstanding: the caller sends on requests and must receive
// from done before sending again.
type stepWorker struct {
	requests chan struct{}
	done     chan error
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func newStepWorker(step func() error) *stepWorker {
	w := &stepWorker{
		requests: make(chan struct{}, 1),
		done:     make(chan error, 1),
		stopChan: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run(step)
	return w
}

// run waits for requests until stopped. A stop is only observed between
// steps.
func (w *stepWorker) run(step func() error) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stopChan:
			return
		case <-w.requests:
			w.done <- step()
		}
	}
}

// start requests one step.
func (w *stepWorker) start() {
	select {
	case w.requests <- struct{}{}:
	default:
		panic("sim: physics step requested while one is pending")
	}
}

// wait blocks until the requested step finishes.
func (w *stepWorker) wait() error {
	return <-w.done
}

// stop signals the goroutine and waits for it to exit.
func (w *stepWorker) stop() {
	close(w.stopChan)
	w.wg.Wait()
}

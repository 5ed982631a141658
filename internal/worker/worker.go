package worker

import "go.uber.org/zap"

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
	log        *zap.Logger
}

func NewWorker(id int, pool *jobChannelPool, log *zap.Logger) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
		log:        log,
	}
}

// Start registers the worker as idle and serves jobs until it receives Stop.
func (w *Worker) Start() {
	go func() {
		if !w.pool.Release(w.jobChannel) {
			w.pool.retire(w.jobChannel)
			return
		}
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.log.Debug("worker stopped", zap.Int("worker", w.id))
				w.pool.retire(w.jobChannel)
				return
			}
			err := job.execute()
			job.done <- err
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

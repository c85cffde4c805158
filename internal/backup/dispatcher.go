package backup

import (
	"context"
	"sync"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// Syncer delivers a post snapshot to the external backup target.
type Syncer interface {
	SyncPost(ctx context.Context, owner user.User, p post.Post) error
}

// UserLookup resolves the owning user for a queued job.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (user.User, error)
}

type job struct {
	userID string
	post   post.Post
}

// Dispatcher runs backup deliveries on a detached worker. Enqueue never
// blocks the caller and failures are never surfaced to it; a full queue
// drops the job. At-least-once is not guaranteed, only attempted.
type Dispatcher struct {
	syncer   Syncer
	users    UserLookup
	log      *logger.Logger
	jobs     chan job
	stop     chan struct{}
	wg       sync.WaitGroup
	timeout  time.Duration
	onResult func(ok bool)
}

// DispatcherOption tweaks dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.jobs = make(chan job, n)
	}
}

// WithResultHook installs a callback invoked after each delivery attempt,
// used for metrics.
func WithResultHook(hook func(ok bool)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onResult = hook
	}
}

// NewDispatcher creates a dispatcher. Call Start before enqueuing.
func NewDispatcher(syncer Syncer, users UserLookup, log *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("backup")
	}
	d := &Dispatcher{
		syncer:  syncer,
		users:   users,
		log:     log,
		jobs:    make(chan job, 64),
		stop:    make(chan struct{}),
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop drains queued jobs and waits for the worker to exit.
func (d *Dispatcher) Stop() {
	close(d.stop)
	d.wg.Wait()
}

// Enqueue schedules a backup of the post for the given user. It never
// blocks; when the queue is full the job is dropped and logged.
func (d *Dispatcher) Enqueue(userID string, p post.Post) {
	select {
	case d.jobs <- job{userID: userID, post: p}:
	default:
		d.log.WithField("post_id", p.ID).Warn("backup queue full, dropping job")
		if d.onResult != nil {
			d.onResult(false)
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.jobs:
			d.deliver(j)
		case <-d.stop:
			// drain what is already queued, then exit
			for {
				select {
				case j := <-d.jobs:
					d.deliver(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	owner, err := d.users.GetUser(ctx, j.userID)
	if err != nil {
		d.log.WithError(err).WithField("user_id", j.userID).Warn("backup skipped, owner lookup failed")
		if d.onResult != nil {
			d.onResult(false)
		}
		return
	}

	if err := d.syncer.SyncPost(ctx, owner, j.post); err != nil {
		d.log.WithError(err).
			WithField("post_id", j.post.ID).
			WithField("user_id", j.userID).
			Warn("backup delivery failed")
		if d.onResult != nil {
			d.onResult(false)
		}
		return
	}

	d.log.WithField("post_id", j.post.ID).Debug("backup delivered")
	if d.onResult != nil {
		d.onResult(true)
	}
}

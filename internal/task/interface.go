package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/osinstall/instconfd/internal/bus"
)

// InterfaceName is the D-Bus interface of published tasks.
const InterfaceName = "org.osinstall.Instconf.Task"

var taskSignals = []introspect.Signal{
	{Name: "ProgressChanged", Args: []introspect.Arg{{Name: "step", Type: "i"}, {Name: "message", Type: "s"}}},
	{Name: "Started"},
	{Name: "Stopped"},
	{Name: "Succeeded"},
	{Name: "Failed", Args: []introspect.Arg{{Name: "message", Type: "s"}}},
}

// progressValue is the D-Bus representation of the task progress.
type progressValue struct {
	Step    int32
	Message string
}

// taskInterface holds the D-Bus methods of a published task.
type taskInterface struct {
	ctx  context.Context //nolint:containedctx
	task Task

	mu     sync.Mutex
	handle *Handle
}

// Start starts the task on a worker goroutine.
func (i *taskInterface) Start() *dbus.Error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.handle != nil {
		return dbus.MakeFailedError(fmt.Errorf("task %q was already started", i.task.Name()))
	}

	i.handle = Start(i.ctx, i.task)

	return nil
}

// Finish waits for the task and returns its error.
func (i *taskInterface) Finish() *dbus.Error {
	i.mu.Lock()
	handle := i.handle
	i.mu.Unlock()

	if handle == nil {
		return dbus.MakeFailedError(fmt.Errorf("task %q wasn't started", i.task.Name()))
	}

	err := handle.Wait(i.ctx)
	if err != nil {
		return dbus.MakeFailedError(err)
	}

	return nil
}

// Cancel is accepted but ignored, tasks can't be interrupted.
func (i *taskInterface) Cancel() *dbus.Error {
	return nil
}

func (i *taskInterface) isRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.handle != nil && i.handle.IsRunning()
}

// Publisher publishes tasks under a service object path.
type Publisher struct {
	conn      bus.Exporter
	scheduler *bus.Scheduler
	basePath  dbus.ObjectPath

	mu      sync.Mutex
	counter int
}

// NewPublisher returns a publisher placing tasks under <basePath>/Tasks/<n>. A nil
// connection only assigns paths.
func NewPublisher(conn bus.Exporter, scheduler *bus.Scheduler, basePath dbus.ObjectPath) *Publisher {
	return &Publisher{conn: conn, scheduler: scheduler, basePath: basePath}
}

// Publish publishes every task and returns their object paths in order.
func (p *Publisher) Publish(ctx context.Context, tasks []Task) ([]dbus.ObjectPath, error) {
	paths := make([]dbus.ObjectPath, 0, len(tasks))

	for _, t := range tasks {
		path, err := p.publish(ctx, t)
		if err != nil {
			return nil, err
		}

		paths = append(paths, path)
	}

	return paths, nil
}

func (p *Publisher) publish(ctx context.Context, t Task) (dbus.ObjectPath, error) {
	p.mu.Lock()
	p.counter++
	path := dbus.ObjectPath(fmt.Sprintf("%s/Tasks/%d", p.basePath, p.counter))
	p.mu.Unlock()

	base := t.TaskBase()
	base.SetScheduler(p.scheduler)

	if p.conn == nil {
		return path, nil
	}

	iface := &taskInterface{ctx: context.WithoutCancel(ctx), task: t}

	props := bus.NewProperties(p.conn, path, InterfaceName)
	props.Define("Name", func() any { return t.Name() })
	props.Define("Steps", func() any { return int32(base.Steps()) }) //nolint:gosec
	props.Define("Progress", func() any {
		step, msg := base.Progress()

		return progressValue{Step: int32(step), Message: msg} //nolint:gosec
	})
	props.Define("IsRunning", func() any { return iface.isRunning() })

	emit := func(name string, values ...any) {
		_ = p.conn.Emit(path, InterfaceName+"."+name, values...)
	}

	onMain := func(fn func()) {
		if p.scheduler == nil {
			fn()

			return
		}

		p.scheduler.RunOnMain(fn)
	}

	base.ProgressChanged.Connect(func(r ProgressReport) {
		emit("ProgressChanged", int32(r.Step), r.Message) //nolint:gosec
		props.Changed("Progress")
		_ = props.Flush()
	})

	base.Started.Connect(func(struct{}) {
		onMain(func() {
			emit("Started")
			props.Changed("IsRunning")
			_ = props.Flush()
		})
	})

	base.Stopped.Connect(func(struct{}) {
		onMain(func() {
			emit("Stopped")
			props.Changed("IsRunning")
			_ = props.Flush()
		})
	})

	base.Succeeded.Connect(func(struct{}) { onMain(func() { emit("Succeeded") }) })
	base.Failed.Connect(func(err error) { onMain(func() { emit("Failed", err.Error()) }) })

	err := bus.Publish(p.conn, bus.Object{
		Path:       path,
		Interface:  InterfaceName,
		Methods:    iface,
		Properties: props,
		Signals:    taskSignals,
	})
	if err != nil {
		return "", err
	}

	return path, nil
}

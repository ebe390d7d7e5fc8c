package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	*Base

	err error
}

func (t *countingTask) Run(_ context.Context) error {
	t.ReportProgress("first")
	t.ReportProgress("second")
	t.ReportProgress("too far", 10)
	t.ReportProgress("backwards", 1)

	return t.err
}

func TestReportProgressClamps(t *testing.T) {
	t.Parallel()

	task := &countingTask{Base: NewBase("Count", 3)}

	reports := []ProgressReport{}
	task.ProgressChanged.Connect(func(r ProgressReport) { reports = append(reports, r) })

	succeeded := false
	task.Succeeded.Connect(func(struct{}) { succeeded = true })

	require.NoError(t, Run(context.Background(), task))
	require.True(t, succeeded)
	require.Equal(t, []ProgressReport{
		{Step: 1, Message: "first"},
		{Step: 2, Message: "second"},
		{Step: 3, Message: "too far"},
		{Step: 3, Message: "backwards"},
		{Step: 3, Message: "Done"},
	}, reports)

	step, msg := task.Progress()
	require.Equal(t, 3, step)
	require.Equal(t, "Done", msg)
}

func TestRunFailure(t *testing.T) {
	t.Parallel()

	task := &countingTask{Base: NewBase("Fail", 1), err: errors.New("broken")}

	var failed error
	task.Failed.Connect(func(err error) { failed = err })

	stopped := false
	task.Stopped.Connect(func(struct{}) { stopped = true })

	require.EqualError(t, Run(context.Background(), task), "broken")
	require.EqualError(t, failed, "broken")
	require.True(t, stopped)

	require.EqualError(t, RunAll(context.Background(), []Task{&countingTask{Base: NewBase("Ok", 1)}, task}), "broken")
}

func TestStartWait(t *testing.T) {
	t.Parallel()

	task := &countingTask{Base: NewBase("Worker", 2)}

	h := Start(context.Background(), task)
	require.NoError(t, h.Wait(context.Background()))
	require.False(t, h.IsRunning())
	require.Equal(t, "Worker", h.Task().Name())
}

type recordingConn struct {
	mu       sync.Mutex
	exported []string
	signals  []string
}

func (c *recordingConn) Emit(_ dbus.ObjectPath, name string, _ ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.signals = append(c.signals, name)

	return nil
}

func (c *recordingConn) Export(v any, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v != nil {
		c.exported = append(c.exported, string(path)+" "+iface)
	}

	return nil
}

func (c *recordingConn) ExportMethodTable(methods map[string]any, path dbus.ObjectPath, iface string) error {
	return c.Export(methods, path, iface)
}

func TestPublisher(t *testing.T) {
	t.Parallel()

	conn := &recordingConn{}
	p := NewPublisher(conn, nil, "/org/osinstall/Instconf/Network")

	first := &countingTask{Base: NewBase("First", 1)}
	second := &countingTask{Base: NewBase("Second", 1)}

	paths, err := p.Publish(context.Background(), []Task{first, second})
	require.NoError(t, err)
	require.Equal(t, []dbus.ObjectPath{
		"/org/osinstall/Instconf/Network/Tasks/1",
		"/org/osinstall/Instconf/Network/Tasks/2",
	}, paths)
	require.Contains(t, conn.exported, "/org/osinstall/Instconf/Network/Tasks/1 org.osinstall.Instconf.Task")

	require.NoError(t, Run(context.Background(), first))

	conn.mu.Lock()
	defer conn.mu.Unlock()

	require.Contains(t, conn.signals, "org.osinstall.Instconf.Task.Started")
	require.Contains(t, conn.signals, "org.osinstall.Instconf.Task.Succeeded")
	require.Contains(t, conn.signals, "org.freedesktop.DBus.Properties.PropertiesChanged")
}

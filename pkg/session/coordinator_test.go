package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/config"
	"github.com/castmill/relay/pkg/logger"
)

type fakeViewer struct {
	id   com.Uid
	done chan struct{}

	mu     sync.Mutex
	frames []Frame
}

func newFakeViewer() *fakeViewer { return &fakeViewer{id: com.NewUid(), done: make(chan struct{})} }

func (v *fakeViewer) Id() com.Uid           { return v.id }
func (v *fakeViewer) Done() <-chan struct{} { return v.done }
func (v *fakeViewer) RelayFrame(f Frame) {
	v.mu.Lock()
	v.frames = append(v.frames, f)
	v.mu.Unlock()
}
func (v *fakeViewer) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames)
}
func (v *fakeViewer) last() (f Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.frames) > 0 {
		f = v.frames[len(v.frames)-1]
	}
	return
}
func (v *fakeViewer) disconnect() { close(v.done) }

type fakeDevice struct {
	id   com.Uid
	done chan struct{}

	mu       sync.Mutex
	requests []string
}

func newFakeDevice() *fakeDevice { return &fakeDevice{id: com.NewUid(), done: make(chan struct{})} }

func (d *fakeDevice) Id() com.Uid           { return d.id }
func (d *fakeDevice) Done() <-chan struct{} { return d.done }
func (d *fakeDevice) RequestKeyframe(sid string) {
	d.mu.Lock()
	d.requests = append(d.requests, sid)
	d.mu.Unlock()
}
func (d *fakeDevice) requested() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}
func (d *fakeDevice) disconnect() { close(d.done) }

func testCoordinator(t *testing.T, queueSize, maxDrops int) *Coordinator {
	t.Helper()
	c := NewCoordinator(config.Session{MaxQueueSize: queueSize, MaxPFrameDrops: maxDrops}, logger.New(false))
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func delta() Frame    { return Frame{Type: Delta, Payload: []byte{1}} }
func keyframe() Frame { return Frame{Type: Keyframe, Payload: []byte{2}} }

func TestKeyframeAlwaysWins(t *testing.T) {
	c := testCoordinator(t, 10, 5)
	v := newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 13; i++ {
		c.EnqueueFrame("s1", delta())
	}
	info, _ := c.GetSession("s1")
	if info.QueueLen != 10 || info.Drops != 3 {
		t.Fatalf("queue %v drops %v, want 10/3", info.QueueLen, info.Drops)
	}

	c.EnqueueFrame("s1", keyframe())
	info, _ = c.GetSession("s1")
	if info.QueueLen != 0 || info.Drops != 0 {
		t.Errorf("queue %v drops %v after keyframe, want 0/0", info.QueueLen, info.Drops)
	}
	if v.count() != 11 {
		t.Errorf("viewer got %v frames, want 11", v.count())
	}
	if v.last().Type != Keyframe {
		t.Errorf("last relayed frame is %v, want keyframe", v.last().Type)
	}
}

func TestBoundedQueue(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v := newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 150; i++ {
		c.EnqueueFrame("s1", delta())
	}
	info, _ := c.GetSession("s1")
	if info.QueueLen != 100 {
		t.Errorf("queue %v, want 100", info.QueueLen)
	}
	if v.count() != 100 {
		t.Errorf("viewer got %v frames, want 100", v.count())
	}
}

func TestDropThresholdRequestsOnce(t *testing.T) {
	c := testCoordinator(t, 2, 5)
	v := newFakeViewer()
	dev := newFakeDevice()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceEndpoint("s1", dev); err != nil {
		t.Fatal(err)
	}
	c.EnqueueFrame("s1", delta())
	c.EnqueueFrame("s1", delta())

	for i := 0; i < 4; i++ {
		c.EnqueueFrame("s1", delta())
	}
	c.GetSession("s1") // barrier
	if dev.requested() != 0 {
		t.Fatalf("%v requests before the threshold, want 0", dev.requested())
	}
	c.EnqueueFrame("s1", delta()) // the 5th drop
	c.GetSession("s1")
	if dev.requested() != 1 {
		t.Fatalf("%v requests at the threshold, want 1", dev.requested())
	}
	for i := 0; i < 10; i++ {
		c.EnqueueFrame("s1", delta())
	}
	c.GetSession("s1")
	if dev.requested() != 1 {
		t.Errorf("%v requests within the same stall, want 1", dev.requested())
	}

	c.EnqueueFrame("s1", keyframe())
	c.EnqueueFrame("s1", delta())
	c.EnqueueFrame("s1", delta())
	for i := 0; i < 5; i++ {
		c.EnqueueFrame("s1", delta())
	}
	c.GetSession("s1")
	if dev.requested() != 2 {
		t.Errorf("%v requests after a new stall, want 2", dev.requested())
	}
}

func TestLastViewerTeardown(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v := newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveViewer("s1", v); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.GetSession("s1"); ok {
		t.Error("session is still live after the last viewer left")
	}
	if err := c.RemoveViewer("s1", v); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestDeviceDisconnectTeardown(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v1, v2 := newFakeViewer(), newFakeViewer()
	dev := newFakeDevice()
	if _, err := c.CreateSession("s1", "d1", v1); err != nil {
		t.Fatal(err)
	}
	if err := c.AddViewer("s1", v2); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceEndpoint("s1", dev); err != nil {
		t.Fatal(err)
	}
	dev.disconnect()
	waitFor(t, "session teardown", func() bool { _, ok := c.GetSession("s1"); return !ok })
}

func TestViewerDisconnectPartialRemoval(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v1, v2 := newFakeViewer(), newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v1); err != nil {
		t.Fatal(err)
	}
	if err := c.AddViewer("s1", v2); err != nil {
		t.Fatal(err)
	}
	v1.disconnect()
	waitFor(t, "viewer removal", func() bool {
		info, ok := c.GetSession("s1")
		return ok && info.Viewers == 1
	})
	info, _ := c.GetSession("s1")
	if info.Status != Pending {
		t.Errorf("status %v, want pending", info.Status)
	}
	v2.disconnect()
	waitFor(t, "session teardown", func() bool { _, ok := c.GetSession("s1"); return !ok })
}

func TestCreateDuplicate(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v1, v2 := newFakeViewer(), newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v1); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateSession("s1", "d2", v2); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("got %v, want ErrSessionExists", err)
	}
	info, _ := c.GetSession("s1")
	if info.DeviceId != "d1" || info.Viewers != 1 {
		t.Errorf("existing session mutated by a duplicate create: %+v", info)
	}
	c.EnqueueFrame("s1", keyframe())
	c.GetSession("s1")
	if v1.count() != 1 || v2.count() != 0 {
		t.Errorf("frames went to the wrong viewer: %v/%v", v1.count(), v2.count())
	}
}

func TestAddViewerDuplicate(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v := newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	if err := c.AddViewer("s1", v); !errors.Is(err, ErrViewerExists) {
		t.Errorf("got %v, want ErrViewerExists", err)
	}
	if err := c.AddViewer("nope", newFakeViewer()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestDeviceReplaceOnReconnect(t *testing.T) {
	c := testCoordinator(t, 1, 1)
	v := newFakeViewer()
	dev1, dev2 := newFakeDevice(), newFakeDevice()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceEndpoint("s1", dev1); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceEndpoint("s1", dev2); err != nil {
		t.Fatal(err)
	}
	// the replaced endpoint dying must not kill the session
	dev1.disconnect()
	time.Sleep(50 * time.Millisecond)
	if _, ok := c.GetSession("s1"); !ok {
		t.Fatal("session destroyed by a stale device endpoint")
	}
	c.EnqueueFrame("s1", delta())
	c.EnqueueFrame("s1", delta()) // full queue, threshold 1
	c.GetSession("s1")
	if dev1.requested() != 0 || dev2.requested() != 1 {
		t.Errorf("keyframe requests %v/%v, want 0/1", dev1.requested(), dev2.requested())
	}
}

func TestEnqueueUnknownSession(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	c.EnqueueFrame("ghost", keyframe())
	if _, ok := c.GetSession("ghost"); ok {
		t.Error("a frame must not materialize a session")
	}
}

func TestStopSession(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v1, v2 := newFakeViewer(), newFakeViewer()
	if _, err := c.CreateSession("s1", "d1", v1); err != nil {
		t.Fatal(err)
	}
	if err := c.AddViewer("s1", v2); err != nil {
		t.Fatal(err)
	}
	if err := c.StopSession("s1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.GetSession("s1"); ok {
		t.Error("session is still live after an explicit stop")
	}
	if err := c.StopSession("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
}

func TestListSessionsForDevice(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	if _, err := c.CreateSession("s1", "d1", newFakeViewer()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateSession("s2", "d1", newFakeViewer()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CreateSession("s3", "d2", newFakeViewer()); err != nil {
		t.Fatal(err)
	}
	if got := len(c.ListSessionsForDevice("d1")); got != 2 {
		t.Errorf("d1 has %v sessions, want 2", got)
	}
	if got := len(c.ListSessionsForDevice("d3")); got != 0 {
		t.Errorf("d3 has %v sessions, want 0", got)
	}
}

// Scenario: a real-size stall. The queue fills up, deltas are shed until
// the threshold fires a single keyframe request, and the keyframe recovers.
func TestFullQueueStallRecovery(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v := newFakeViewer()
	dev := newFakeDevice()
	if _, err := c.CreateSession("s1", "d1", v); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDeviceEndpoint("s1", dev); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		c.EnqueueFrame("s1", delta())
	}
	c.GetSession("s1")
	if v.count() != 100 {
		t.Fatalf("viewer got %v frames, want 100", v.count())
	}
	for i := 0; i < 5; i++ {
		c.EnqueueFrame("s1", delta())
	}
	c.GetSession("s1")
	if v.count() != 100 || dev.requested() != 1 {
		t.Fatalf("relayed %v requests %v, want 100/1", v.count(), dev.requested())
	}
	c.EnqueueFrame("s1", delta())
	c.GetSession("s1")
	if dev.requested() != 1 {
		t.Errorf("requests %v within the stall, want 1", dev.requested())
	}
	c.EnqueueFrame("s1", keyframe())
	info, _ := c.GetSession("s1")
	if info.QueueLen != 0 || info.Drops != 0 || v.count() != 101 {
		t.Errorf("queue %v drops %v relayed %v, want 0/0/101", info.QueueLen, info.Drops, v.count())
	}
}

// Scenario: create pending, activate, stream a keyframe.
func TestSessionLifecycle(t *testing.T) {
	c := testCoordinator(t, 100, 5)
	v := newFakeViewer()
	dev := newFakeDevice()
	info, err := c.CreateSession("s1", "d1", v)
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != Pending {
		t.Fatalf("status %v, want pending", info.Status)
	}
	if err = c.SetDeviceEndpoint("s1", dev); err != nil {
		t.Fatal(err)
	}
	info, _ = c.GetSession("s1")
	if info.Status != Active {
		t.Fatalf("status %v, want active", info.Status)
	}
	c.EnqueueFrame("s1", keyframe())
	info, _ = c.GetSession("s1")
	if info.QueueLen != 0 || info.Drops != 0 || v.count() != 1 {
		t.Errorf("queue %v drops %v relayed %v, want 0/0/1", info.QueueLen, info.Drops, v.count())
	}
}

package bluez_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/bluezkit/internal/bus"
	"github.com/srg/bluezkit/internal/testutils"
	"github.com/srg/bluezkit/pkg/bluez"
	"github.com/stretchr/testify/suite"
)

// recorder collects events delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	events []bluez.Event
}

func (r *recorder) Listen(e bluez.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []bluez.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bluez.Event(nil), r.events...)
}

func (r *recorder) Len() int {
	return len(r.Events())
}

// eagerConn delivers an RSSI change from inside WatchProperties, the way a
// broadcast can reach the router before the watcher's owner is ready.
type eagerConn struct {
	*testutils.FakeBus
	rssi int16
}

func (c *eagerConn) WatchProperties(h bus.Handle, fn func(bus.PropertyChange)) (bus.Subscription, error) {
	sub, err := c.FakeBus.WatchProperties(h, fn)
	if err != nil {
		return nil, err
	}
	if h.Interface == bluez.DeviceInterface {
		fn(bus.PropertyChange{Interface: h.Interface, Changed: map[string]any{bluez.PropRSSI: c.rssi}})
	}
	return sub, nil
}

// EventAdapterSuite covers property events on device and characteristic handles.
type EventAdapterSuite struct {
	testutils.BlueZSuite
	client *bluez.Client
	device *bluez.Device
}

func (suite *EventAdapterSuite) SetupTest() {
	suite.BlueZSuite.SetupTest()

	suite.client = bluez.NewClient(suite.Bus, suite.Logger)
	adapter, err := suite.client.DefaultAdapter(suite.Ctx())
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = adapter.Close() })

	suite.device, err = adapter.Device(suite.Ctx(), testutils.DefaultDeviceAddress)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = suite.device.Close() })
}

// openDevice opens a second handle on the default device.
func (suite *EventAdapterSuite) openDevice() *bluez.Device {
	adapter, err := suite.client.DefaultAdapter(suite.Ctx())
	suite.Require().NoError(err)
	defer adapter.Close()

	dev, err := adapter.Device(suite.Ctx(), testutils.DefaultDeviceAddress)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = dev.Close() })
	return dev
}

func (suite *EventAdapterSuite) emitDevice(name string, value any) {
	suite.Bus.UpdateProperty(suite.device.Path(), bluez.DeviceInterface, name, value)
}

func (suite *EventAdapterSuite) characteristic() *bluez.Characteristic {
	svc, err := suite.device.Service(suite.Ctx(), "180f")
	suite.Require().NoError(err)
	ch, err := svc.Characteristic(suite.Ctx(), "2a19")
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = ch.Close() })
	return ch
}

func (suite *EventAdapterSuite) TestBooleanPropertiesAreEdgeTriggered() {
	// GOAL: Verify boolean properties only fire on transitions
	//
	// TEST SCENARIO: device starts disconnected → broadcasts true, true, false, false, true →
	// exactly three transitions reported in order

	connected := &recorder{}
	disconnected := &recorder{}
	suite.device.OnConnected(connected.Listen)
	suite.device.OnDisconnected(disconnected.Listen)

	for _, v := range []bool{true, true, false, false, true} {
		suite.emitDevice(bluez.PropConnected, v)
	}
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	suite.Require().Len(connected.Events(), 2, "MUST report each false->true transition exactly once")
	suite.Require().Len(disconnected.Events(), 1, "MUST report the true->false transition exactly once")
	for _, ev := range connected.Events() {
		suite.Equal(bluez.BecameTrue, ev.Kind)
		suite.True(ev.IsStateChange)
		suite.Equal(bluez.PropConnected, ev.Property)
	}
	suite.Equal(bluez.BecameFalse, disconnected.Events()[0].Kind)
}

func (suite *EventAdapterSuite) TestValuePropertiesFireOnEveryBroadcast() {
	// GOAL: Verify non-boolean properties refresh on every broadcast, repeats included
	//
	// TEST SCENARIO: RSSI broadcast -50, -50, -42 → three Changed events with those values

	rssi := &recorder{}
	suite.device.OnRSSI(rssi.Listen)

	for _, v := range []int16{-50, -50, -42} {
		suite.emitDevice(bluez.PropRSSI, v)
	}
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	events := rssi.Events()
	suite.Require().Len(events, 3, "MUST deliver repeated values")
	suite.Equal(int16(-50), events[0].Value)
	suite.Equal(int16(-50), events[1].Value)
	suite.Equal(int16(-42), events[2].Value)
}

func (suite *EventAdapterSuite) TestCatchUpWhenAlreadyTrue() {
	// GOAL: Verify a subscriber to an already-true property gets exactly one catch-up event
	//
	// TEST SCENARIO: device connected → subscribe → one IsStateChange=false event →
	// redundant true broadcast adds nothing → false then true adds one real transition

	suite.emitDevice(bluez.PropConnected, true)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	connected := &recorder{}
	suite.device.OnConnected(connected.Listen)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	events := connected.Events()
	suite.Require().Len(events, 1, "MUST deliver one catch-up event")
	suite.Equal(bluez.BecameTrue, events[0].Kind)
	suite.False(events[0].IsStateChange, "catch-up event MUST NOT be flagged as a state change")

	suite.emitDevice(bluez.PropConnected, true)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	suite.Len(connected.Events(), 1, "redundant broadcast MUST NOT fire")

	suite.emitDevice(bluez.PropConnected, false)
	suite.emitDevice(bluez.PropConnected, true)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	events = connected.Events()
	suite.Require().Len(events, 2)
	suite.True(events[1].IsStateChange)
}

func (suite *EventAdapterSuite) TestCatchUpPrecedesLaterTransitions() {
	// GOAL: Verify the catch-up event is ordered before transitions that follow the subscribe call
	//
	// TEST SCENARIO: device connected → subscribe → false, true broadcast immediately →
	// catch-up first, then the real transition

	suite.emitDevice(bluez.PropConnected, true)

	connected := &recorder{}
	suite.device.OnConnected(connected.Listen)
	suite.emitDevice(bluez.PropConnected, false)
	suite.emitDevice(bluez.PropConnected, true)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	events := connected.Events()
	suite.Require().Len(events, 2)
	suite.False(events[0].IsStateChange, "catch-up MUST come first")
	suite.True(events[1].IsStateChange)
}

func (suite *EventAdapterSuite) TestNoCatchUpForFalseOrFailedProbe() {
	// GOAL: Verify no synthetic event when the property is false or cannot be read
	//
	// TEST SCENARIO: disconnected device → subscribe → nothing; ServicesResolved unreadable on a
	// freshly opened handle (state unknown) → subscribe → nothing and a warning is logged

	connected := &recorder{}
	suite.device.OnConnected(connected.Listen)

	logs := suite.Helper.CaptureLogs(suite.T())
	suite.Bus.FailGet(suite.device.Path(), bluez.DeviceInterface, bluez.PropServicesResolved,
		testutils.RemoteError(testutils.ErrNameFailed, "probe failed"))
	fresh := suite.openDevice()
	resolved := &recorder{}
	fresh.OnServicesResolved(resolved.Listen)
	suite.Require().NoError(fresh.Flush(suite.Ctx()))
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	suite.Empty(connected.Events())
	suite.Empty(resolved.Events(), "failed probe MUST count as false")
	suite.Contains(logs.String(), "Failed to probe property")

	suite.Bus.FailGet(suite.device.Path(), bluez.DeviceInterface, bluez.PropServicesResolved, nil)
	suite.emitDevice(bluez.PropServicesResolved, true)
	suite.Require().NoError(fresh.Flush(suite.Ctx()))
	suite.Require().Len(resolved.Events(), 1, "listener MUST still receive later transitions")
	suite.True(resolved.Events()[0].IsStateChange)
}

func (suite *EventAdapterSuite) TestCatchUpFollowsDispatchedState() {
	// GOAL: Verify catch-up reflects broadcasts dispatched before the subscriber attached,
	// not the remote value at the time the loop gets to it
	//
	// TEST SCENARIO: disconnected device → listener A subscribes → true broadcast →
	// listener B subscribes → A gets one live transition, B gets one catch-up

	first := &recorder{}
	suite.device.OnConnected(first.Listen)
	suite.emitDevice(bluez.PropConnected, true)
	second := &recorder{}
	suite.device.OnConnected(second.Listen)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	suite.Require().Len(first.Events(), 1)
	suite.True(first.Events()[0].IsStateChange, "listener attached while false MUST see the real transition")
	suite.Require().Len(second.Events(), 1)
	suite.False(second.Events()[0].IsStateChange, "listener attached after the transition MUST get a catch-up")
}

func (suite *EventAdapterSuite) TestBroadcastDuringOpen() {
	// GOAL: Verify a broadcast delivered while the handle is being opened is queued, not lost
	//
	// TEST SCENARIO: bus fires an RSSI change from inside WatchProperties → opening MUST NOT
	// panic → the change is applied once the handle is open

	conn := &eagerConn{FakeBus: suite.Bus, rssi: -33}
	client := bluez.NewClient(conn, suite.Logger)
	adapter, err := client.DefaultAdapter(suite.Ctx())
	suite.Require().NoError(err)
	defer adapter.Close()

	var dev *bluez.Device
	suite.Require().NotPanics(func() {
		dev, err = adapter.Device(suite.Ctx(), testutils.DefaultDeviceAddress)
	})
	suite.Require().NoError(err)
	defer dev.Close()

	suite.Require().NoError(dev.Flush(suite.Ctx()))
	rssi, ok := dev.LastValue(bluez.PropRSSI)
	suite.Require().True(ok)
	suite.Equal(int16(-33), rssi, "queued broadcast MUST be applied after the seed")
}

func (suite *EventAdapterSuite) TestSubscribeRacingClose() {
	// GOAL: Verify subscriptions racing Close never leave listeners behind
	//
	// TEST SCENARIO: subscribers on several goroutines while the handle closes →
	// listener count ends at zero

	dev := suite.openDevice()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 50 {
				dev.OnRSSI(func(bluez.Event) {})
			}
		}()
	}
	close(start)
	suite.Require().NoError(dev.Close())
	wg.Wait()

	suite.Zero(dev.ListenerCount(), "closed handle MUST hold no listeners")
}

func (suite *EventAdapterSuite) TestInvalidationKeepsEdgeState() {
	// GOAL: Verify invalidation drops the cached value but not the edge state
	//
	// TEST SCENARIO: connected → invalidate Connected → broadcast true → no event;
	// broadcast false → one BecameFalse

	suite.emitDevice(bluez.PropConnected, true)
	connected := &recorder{}
	disconnected := &recorder{}
	suite.device.OnConnected(connected.Listen)
	suite.device.OnDisconnected(disconnected.Listen)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	suite.Require().Len(connected.Events(), 1)

	suite.Bus.EmitPropertiesChanged(suite.device.Path(), bluez.DeviceInterface, nil, []string{bluez.PropConnected})
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	_, cached := suite.device.LastValue(bluez.PropConnected)
	suite.False(cached, "invalidated value MUST be dropped")

	suite.emitDevice(bluez.PropConnected, true)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	suite.Len(connected.Events(), 1, "same value after invalidation MUST NOT be an edge")

	suite.emitDevice(bluez.PropConnected, false)
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	suite.Require().Len(disconnected.Events(), 1)
	suite.True(disconnected.Events()[0].IsStateChange)
}

func (suite *EventAdapterSuite) TestCancelledListenerStopsReceiving() {
	// GOAL: Verify Cancel detaches a listener and is idempotent
	//
	// TEST SCENARIO: two RSSI listeners → cancel one twice → broadcast → only the other fires

	first, second := &recorder{}, &recorder{}
	sub := suite.device.OnRSSI(first.Listen)
	suite.device.OnRSSI(second.Listen)
	suite.Equal(2, suite.device.ListenerCount())

	sub.Cancel()
	sub.Cancel()
	suite.Equal(1, suite.device.ListenerCount(), "double Cancel MUST only detach once")

	suite.emitDevice(bluez.PropRSSI, int16(-60))
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))
	suite.Empty(first.Events())
	suite.Len(second.Events(), 1)
}

func (suite *EventAdapterSuite) TestListenerMayCancelItself() {
	// GOAL: Verify a listener can cancel its own subscription from the callback
	//
	// TEST SCENARIO: listener cancels on first event → later broadcasts are not delivered

	rec := &recorder{}
	var sub *bluez.Subscription
	sub = suite.device.OnRSSI(func(e bluez.Event) {
		rec.Listen(e)
		sub.Cancel()
	})

	suite.emitDevice(bluez.PropRSSI, int16(-60))
	suite.emitDevice(bluez.PropRSSI, int16(-61))
	suite.Require().NoError(suite.device.Flush(suite.Ctx()))

	suite.Len(rec.Events(), 1)
	suite.Equal(0, suite.device.ListenerCount())
}

func (suite *EventAdapterSuite) TestSingleWatchPerHandle() {
	// GOAL: Verify a handle holds one property watch however many listeners it has
	//
	// TEST SCENARIO: attach five listeners → one watch on the device path → Close → zero

	for i := 0; i < 5; i++ {
		suite.device.OnRSSI(func(bluez.Event) {})
	}
	suite.Equal(1, suite.Bus.PropertyWatchCount(suite.device.Path()))

	suite.Require().NoError(suite.device.Close())
	suite.Equal(0, suite.Bus.PropertyWatchCount(suite.device.Path()), "Close MUST release the watch")
	suite.Equal(0, suite.device.ListenerCount())
}

func (suite *EventAdapterSuite) TestCloseIsIdempotentAndSilent() {
	// GOAL: Verify Close is idempotent, makes no remote calls and stops deliveries
	//
	// TEST SCENARIO: listener attached → Close twice → broadcast → no delivery, no calls,
	// later operations fail with ErrClosed

	rec := &recorder{}
	suite.device.OnRSSI(rec.Listen)
	callsBefore := len(suite.Bus.Calls(suite.device.Path(), ""))

	suite.Require().NoError(suite.device.Close())
	suite.Require().NoError(suite.device.Close())

	suite.emitDevice(bluez.PropRSSI, int16(-70))
	suite.Empty(rec.Events())
	suite.Len(suite.Bus.Calls(suite.device.Path(), ""), callsBefore, "Close MUST NOT call the remote side")
	suite.ErrorIs(suite.device.Connect(suite.Ctx()), bluez.ErrClosed)
	suite.ErrorIs(suite.device.Flush(suite.Ctx()), bluez.ErrClosed)

	sub := suite.device.OnRSSI(rec.Listen)
	sub.Cancel()
	suite.Equal(0, suite.device.ListenerCount())
}

func (suite *EventAdapterSuite) TestNotifyIsReferenceCounted() {
	// GOAL: Verify StartNotify/StopNotify follow the number of value listeners
	//
	// TEST SCENARIO: two OnValue → one StartNotify → cancel first → no StopNotify →
	// cancel second → one StopNotify

	ch := suite.characteristic()
	first := ch.OnValue(func(bluez.Event) {})
	second := ch.OnValue(func(bluez.Event) {})
	suite.Require().NoError(ch.Flush(suite.Ctx()))
	suite.Equal(1, suite.Bus.CallCount(ch.Path(), "StartNotify"), "MUST start notifications once")

	first.Cancel()
	suite.Require().NoError(ch.Flush(suite.Ctx()))
	suite.Equal(0, suite.Bus.CallCount(ch.Path(), "StopNotify"), "MUST keep notifications while a listener remains")

	second.Cancel()
	suite.Require().NoError(ch.Flush(suite.Ctx()))
	suite.Equal(1, suite.Bus.CallCount(ch.Path(), "StopNotify"), "MUST stop notifications after the last listener")
}

func (suite *EventAdapterSuite) TestCloseLeavesNotifySessionRunning() {
	// GOAL: Verify disposing a handle with active notifications makes no remote call
	//
	// TEST SCENARIO: OnValue → StartNotify → Close → no StopNotify, Notifying still true remotely

	ch := suite.characteristic()
	ch.OnValue(func(bluez.Event) {})
	suite.Require().NoError(ch.Flush(suite.Ctx()))

	suite.Require().NoError(ch.Close())
	suite.Equal(0, suite.Bus.CallCount(ch.Path(), "StopNotify"))

	notifying, _ := suite.Bus.StoredProperty(ch.Path(), bluez.GattCharacteristicInterface, bluez.PropNotifying)
	suite.Equal(true, notifying)
}

func (suite *EventAdapterSuite) TestValueNotificationsAndRepeats() {
	// GOAL: Verify characteristic values are delivered on every notification
	//
	// TEST SCENARIO: OnValue → notify [51], [51], [52] → three events → Value() holds the last

	ch := suite.characteristic()
	rec := &recorder{}
	ch.OnValue(rec.Listen)

	for _, v := range [][]byte{{51}, {51}, {52}} {
		suite.Bus.UpdateProperty(ch.Path(), bluez.GattCharacteristicInterface, bluez.PropValue, v)
	}
	suite.Require().NoError(ch.Flush(suite.Ctx()))

	events := rec.Events()
	suite.Require().Len(events, 3)
	suite.Equal([]byte{51}, events[0].Bytes())
	suite.Equal([]byte{52}, events[2].Bytes())
	suite.Equal([]byte{52}, ch.Value())
}

func (suite *EventAdapterSuite) TestNotifyFailureKeepsListener() {
	// GOAL: Verify a failed StartNotify is logged and the listener still receives values
	//
	// TEST SCENARIO: StartNotify fails → warning logged → value broadcast still delivered

	ch := suite.characteristic()
	suite.Bus.FailMethod(ch.Path(), bluez.GattCharacteristicInterface, "StartNotify",
		testutils.RemoteError(testutils.ErrNameFailed, "busy"))
	logs := suite.Helper.CaptureLogs(suite.T())

	rec := &recorder{}
	sub := ch.OnValue(rec.Listen)
	suite.Bus.UpdateProperty(ch.Path(), bluez.GattCharacteristicInterface, bluez.PropValue, []byte{7})
	suite.Require().NoError(ch.Flush(suite.Ctx()))

	suite.Len(rec.Events(), 1)
	suite.Contains(logs.String(), "Failed to activate property updates")

	sub.Cancel()
	suite.Require().NoError(ch.Flush(suite.Ctx()))
	suite.Equal(0, suite.Bus.CallCount(ch.Path(), "StopNotify"), "MUST NOT stop a session that never started")
}

func (suite *EventAdapterSuite) TestRemovedClosesHandle() {
	// GOAL: Verify removal of the remote object fires OnRemoved and closes the handle
	//
	// TEST SCENARIO: OnRemoved → daemon drops the device → one Removed event → handle closed

	removed := make(chan bluez.Event, 1)
	suite.device.OnRemoved(func(e bluez.Event) { removed <- e })

	suite.Bus.RemoveObject(suite.device.Path())

	select {
	case ev := <-removed:
		suite.Equal(bluez.Removed, ev.Kind)
		suite.Equal(suite.device.Path(), ev.Path)
	case <-time.After(suite.TestTimeout):
		suite.Fail("removal event not delivered")
	}
	suite.Eventually(suite.device.Closed, suite.TestTimeout, 5*time.Millisecond)
	suite.Equal(0, suite.Bus.PropertyWatchCount(suite.device.Path()))
}

func (suite *EventAdapterSuite) TestWaitForPropertyValue() {
	suite.Run("returns immediately when already equal", func() {
		// GOAL: Verify no watcher is attached when the value already matches
		err := suite.device.WaitForPropertyValue(suite.Ctx(), bluez.PropConnected, false, time.Second)
		suite.Require().NoError(err)
		suite.Equal(0, suite.device.ListenerCount())
	})

	suite.Run("waits for the value to change", func() {
		// TEST SCENARIO: wait for Connected=true → Connect from another goroutine → wait returns
		done := make(chan error, 1)
		go func() {
			done <- suite.device.WaitForPropertyValue(suite.Ctx(), bluez.PropConnected, true, suite.TestTimeout)
		}()

		suite.Eventually(func() bool { return suite.device.ListenerCount() == 1 }, suite.TestTimeout, time.Millisecond)
		suite.Require().NoError(suite.device.Connect(suite.Ctx()))

		suite.Require().NoError(<-done)
		suite.Equal(0, suite.device.ListenerCount(), "watcher MUST be detached after success")
	})

	suite.Run("times out and detaches the watcher", func() {
		err := suite.device.WaitForPropertyValue(suite.Ctx(), bluez.PropRSSI, int16(-10), 30*time.Millisecond)
		suite.Require().Error(err)
		suite.ErrorIs(err, bluez.ErrTimeout)
		suite.Contains(err.Error(), `"RSSI"`)
		suite.Equal(0, suite.device.ListenerCount(), "watcher MUST be detached after timeout")
	})

	suite.Run("widens integer targets", func() {
		suite.emitDevice(bluez.PropRSSI, int16(-33))
		err := suite.device.WaitForPropertyValue(suite.Ctx(), bluez.PropRSSI, -33, time.Second)
		suite.NoError(err)
	})
}

func (suite *EventAdapterSuite) TestReadValue() {
	ch := suite.characteristic()

	suite.Run("returns the remote value", func() {
		data, err := ch.ReadValue(suite.Ctx(), time.Second)
		suite.Require().NoError(err)
		suite.Equal([]byte{50}, data)
	})

	suite.Run("times out when the remote side hangs", func() {
		// GOAL: Verify the timeout guard bounds a read that never completes
		suite.Bus.BlockMethod(ch.Path(), bluez.GattCharacteristicInterface, "ReadValue")

		start := time.Now()
		_, err := ch.ReadValue(suite.Ctx(), 40*time.Millisecond)
		suite.Require().Error(err)

		var timeoutErr *bluez.TimeoutError
		suite.Require().True(errors.As(err, &timeoutErr), "MUST fail with *TimeoutError, got %T", err)
		suite.Equal(40*time.Millisecond, timeoutErr.After)
		suite.Less(time.Since(start), suite.TestTimeout)
	})

	suite.Run("maps remote failures", func() {
		suite.Bus.FailMethod(ch.Path(), bluez.GattCharacteristicInterface, "ReadValue",
			testutils.RemoteError("org.bluez.Error.NotPermitted", "Read not permitted"))

		_, err := ch.ReadValue(suite.Ctx(), time.Second)
		suite.ErrorIs(err, bluez.ErrRemoteCall)
		suite.ErrorIs(err, bluez.ErrNotSupported)

		var rce *bluez.RemoteCallError
		suite.Require().ErrorAs(err, &rce)
		suite.Equal("Read not permitted", rce.Message)
	})
}

func (suite *EventAdapterSuite) TestWriteValue() {
	ch := suite.characteristic()

	err := ch.WriteValue(suite.Ctx(), []byte{1, 2, 3}, bluez.WriteOptions{Type: bluez.WriteWithoutResponse})
	suite.Require().NoError(err)

	stored, _ := suite.Bus.StoredProperty(ch.Path(), bluez.GattCharacteristicInterface, bluez.PropValue)
	suite.Equal([]byte{1, 2, 3}, stored)

	calls := suite.Bus.Calls(ch.Path(), "WriteValue")
	suite.Require().Len(calls, 1)
	suite.Require().Len(calls[0].Args, 2)
	suite.Contains(calls[0].Args[1], "type")
}

func (suite *EventAdapterSuite) TestStartNotifyWithoutCapability() {
	// GOAL: Verify StartNotify on a characteristic without notify/indicate fails with ErrNotSupported
	suite.Bus.AddObject(suite.device.Path()+"/service0020", map[string]map[string]any{
		bluez.GattServiceInterface: {"UUID": testutils.FullUUID("180a"), "Primary": true},
	})
	suite.Bus.AddObject(suite.device.Path()+"/service0020/char0021", map[string]map[string]any{
		bluez.GattCharacteristicInterface: {
			"UUID":  testutils.FullUUID("2a24"),
			"Flags": []string{"read"},
			"Value": []byte("Model"),
		},
	})

	svc, err := suite.device.Service(suite.Ctx(), bluez.DeviceInformationServiceUUID)
	suite.Require().NoError(err)
	ch, err := svc.Characteristic(suite.Ctx(), "2a24")
	suite.Require().NoError(err)
	defer ch.Close()

	suite.False(ch.SupportsNotify())
	suite.ErrorIs(ch.StartNotify(suite.Ctx()), bluez.ErrNotSupported)
	suite.Equal(0, suite.Bus.CallCount(ch.Path(), "StartNotify"), "MUST refuse locally")
}

func TestEventAdapterSuite(t *testing.T) {
	suite.Run(t, new(EventAdapterSuite))
}

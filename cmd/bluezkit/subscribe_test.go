package main

import (
	"testing"
	"time"

	"github.com/srg/bluezkit/internal/testutils"
	"github.com/srg/bluezkit/pkg/bluez"
	"github.com/stretchr/testify/suite"
)

type SubscribeTestSuite struct {
	CommandTestSuite
}

func TestSubscribeTestSuite(t *testing.T) {
	suite.Run(t, new(SubscribeTestSuite))
}

type commandResult struct {
	stdout, stderr string
	err            error
}

// startSubscribe runs subscribe in the background and waits until the
// device has notifications enabled.
func (suite *SubscribeTestSuite) startSubscribe(args ...string) <-chan commandResult {
	done := make(chan commandResult, 1)
	go func() {
		stdout, stderr, err := suite.ExecuteCommand(append([]string{"subscribe"}, args...)...)
		done <- commandResult{stdout: stdout, stderr: stderr, err: err}
	}()

	suite.Require().Eventually(func() bool {
		v, _ := suite.Bus.StoredProperty(batteryCharPath, gattCharIface, "Notifying")
		on, _ := v.(bool)
		return on
	}, suite.TestTimeout, time.Millisecond, "subscribe MUST enable notifications")
	return done
}

func (suite *SubscribeTestSuite) wait(done <-chan commandResult) commandResult {
	select {
	case r := <-done:
		return r
	case <-time.After(suite.TestTimeout):
		suite.FailNow("subscribe MUST finish")
		return commandResult{}
	}
}

func (suite *SubscribeTestSuite) TestStreamsUntilCount() {
	// GOAL: Verify every notification is printed in order and --count ends the stream
	//
	// TEST SCENARIO: subscribe --count 2 → two value broadcasts → two hex lines → command exits

	done := suite.startSubscribe(testutils.DefaultDeviceAddress, "2a19", "--count", "2", "--hex")

	suite.Bus.UpdateProperty(batteryCharPath, gattCharIface, "Value", []byte{49})
	suite.Bus.UpdateProperty(batteryCharPath, gattCharIface, "Value", []byte{49})

	r := suite.wait(done)
	suite.Require().NoError(r.err)
	suite.Equal("31\n31\n", r.stdout, "repeated values MUST each be printed")
	suite.Equal(1, suite.Bus.CallCount(batteryCharPath, "StartNotify"), "notifications MUST be started once")
}

func (suite *SubscribeTestSuite) TestDurationEndsStream() {
	stdout, _, err := suite.ExecuteCommand("subscribe", testutils.DefaultDeviceAddress, "2a19", "--duration", "200ms")
	suite.Require().NoError(err)
	suite.Empty(stdout)
}

func (suite *SubscribeTestSuite) TestConnectionLost() {
	// GOAL: Verify a disconnect during the stream ends the command with ErrConnectionLost
	//
	// TEST SCENARIO: streaming → one value → device disconnects → value printed → ErrConnectionLost

	done := suite.startSubscribe(testutils.DefaultDeviceAddress, "2a19", "--raw")

	suite.Bus.UpdateProperty(batteryCharPath, gattCharIface, "Value", []byte("a"))
	suite.Bus.UpdateProperty(testDevicePath, "org.bluez.Device1", "Connected", false)

	r := suite.wait(done)
	suite.ErrorIs(r.err, ErrConnectionLost)
	suite.Equal("connection to the device was lost", FormatUserError(r.err))
}

func (suite *SubscribeTestSuite) TestRejectsCharacteristicWithoutNotify() {
	_, _, err := suite.ExecuteCommand("subscribe", testutils.DefaultDeviceAddress, "2a29")
	suite.Require().Error(err)
	suite.ErrorIs(err, bluez.ErrNotSupported)
	suite.Contains(err.Error(), "does not support notifications")
}

func (suite *SubscribeTestSuite) TestStartNotifyFailure() {
	suite.Bus.FailMethod(batteryCharPath, gattCharIface, "StartNotify",
		testutils.RemoteError(testutils.ErrNameFailed, "Notify session busy"))

	_, _, err := suite.ExecuteCommand("subscribe", testutils.DefaultDeviceAddress, "2a19", "--duration", "1s")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "failed to enable notifications on 2a19")
	suite.Contains(FormatUserError(err), "Notify session busy")
}

func (suite *SubscribeTestSuite) TestInvalidBuffer() {
	_, _, err := suite.ExecuteCommand("subscribe", testutils.DefaultDeviceAddress, "2a19", "--buffer", "0")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "--buffer must be positive")
}

package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// Addresses used by the default profile.
const (
	DefaultAdapterAddress = "00:11:22:33:44:55"
	DefaultDeviceAddress  = "AA:BB:CC:DD:EE:FF"
)

// BlueZSuite provides a reusable test suite backed by a fake BlueZ daemon.
//
// Basic usage (default profile: powered hci0 with one battery-service device):
//
//	type SimpleSuite struct {
//	    testutils.BlueZSuite
//	}
//
//	func TestSimpleSuite(t *testing.T) {
//	    suite.Run(t, new(SimpleSuite))
//	}
//
// Custom profile usage:
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithBlueZ().
//	        WithAdapter("hci0", "00:11:22:33:44:55", true).
//	        WithDevice("AA:BB:CC:DD:EE:FF", "HeartRate", -40).
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify", []byte{80})
//
//	    s.BlueZSuite.SetupTest() // Call parent last to apply configuration
//	}
type BlueZSuite struct {
	suite.Suite

	Helper      *TestHelper
	Logger      *logrus.Logger
	TestTimeout time.Duration

	Builder *BlueZBuilder // profile applied by SetupTest
	Bus     *FakeBus      // fake daemon for the running test
}

// SetupSuite initializes shared test utilities.
// Called once before all tests in the suite.
func (s *BlueZSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
	s.Logger.Debug("Suite setup completed")
}

// SetupTest builds the fake daemon before each test.
func (s *BlueZSuite) SetupTest() {
	if s.Builder == nil {
		s.Builder = DefaultBlueZProfile()
	}
	s.Bus = s.Builder.Build()
	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets the profile so the next test starts from the default.
func (s *BlueZSuite) TearDownTest() {
	s.Builder = nil
	s.Bus = nil
}

// WithBlueZ returns the profile builder for fluent configuration.
// Call it before SetupTest applies the profile.
func (s *BlueZSuite) WithBlueZ() *BlueZBuilder {
	if s.Builder == nil {
		s.Builder = NewBlueZBuilder()
	}
	return s.Builder
}

// Ctx returns a context bound to TestTimeout and the current test.
func (s *BlueZSuite) Ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.TestTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

// DefaultBlueZProfile is a powered hci0 with one disconnected device that
// exposes the Battery Service (180F) with Battery Level (2A19) at 50%.
func DefaultBlueZProfile() *BlueZBuilder {
	return NewBlueZBuilder().FromJSON(`
		{
			"adapters": [
				{
					"name": "hci0",
					"address": "%s",
					"powered": true,
					"devices": [
						{
							"address": "%s",
							"name": "Sensor",
							"rssi": -50,
							"battery": 50,
							"services": [
								{
									"uuid": "180F",
									"characteristics": [
										{ "uuid": "2A19", "flags": "read,notify", "value": [50] }
									]
								}
							]
						}
					]
				}
			]
		}`, DefaultAdapterAddress, DefaultDeviceAddress)
}

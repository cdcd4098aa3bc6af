package main

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type PowerTestSuite struct {
	CommandTestSuite
}

func TestPowerTestSuite(t *testing.T) {
	suite.Run(t, new(PowerTestSuite))
}

func (suite *PowerTestSuite) TestPowerOff() {
	// GOAL: Verify power off sets Powered and reports the new state
	//
	// TEST SCENARIO: powered adapter → power off → Powered false in the daemon → confirmation printed

	stdout, _, err := suite.ExecuteCommand("power", "off")
	suite.Require().NoError(err)
	suite.Equal("hci0: powered off\n", stdout)

	v, ok := suite.Bus.StoredProperty(testAdapterPath, "org.bluez.Adapter1", "Powered")
	suite.Require().True(ok)
	suite.Equal(false, v, "adapter MUST be powered off")
}

func (suite *PowerTestSuite) TestPowerOnWhenAlreadyOn() {
	stdout, _, err := suite.ExecuteCommand("power", "on", "--adapter", "hci0")
	suite.Require().NoError(err)
	suite.Equal("hci0: powered on\n", stdout)
}

func (suite *PowerTestSuite) TestInvalidState() {
	_, _, err := suite.ExecuteCommand("power", "maybe")
	suite.Require().Error(err)
	suite.Contains(err.Error(), `invalid power state "maybe"`)
}

func (suite *PowerTestSuite) TestUnknownAdapter() {
	_, _, err := suite.ExecuteCommand("power", "on", "--adapter", "hci7")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "hci7")
}

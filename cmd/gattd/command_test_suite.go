//go:build test

package main

import (
	"bytes"

	"github.com/fatih/color"
	"github.com/stretchr/testify/suite"

	"github.com/srg/gattd/internal/testutils"
)

// CommandTestSuite runs the root command in-process.
// All cmd/gattd test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	color.NoColor = true

	// cobra keeps flag values between executions of the same command tree
	s.Require().NoError(rootCmd.PersistentFlags().Set("config", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", "error"))
	s.Require().NoError(rootCmd.PersistentFlags().Set("verbose", "false"))
	s.Require().NoError(treeCmd.Flags().Set("format", formatAuto))
}

// WriteConfig stores a YAML configuration for the current test and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	return s.helper.WriteFile("gattd.yaml", yaml)
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

package testutil

import (
	"context"

	"github.com/onsi/ginkgo/v2"
	"github.com/sirupsen/logrus"
)

// TestSuiteBuilder provides a fluent interface for the Ginkgo
// BeforeEach/AfterEach boilerplate every suite in this repo otherwise
// repeats by hand: a context and a quiet logger.
type TestSuiteBuilder struct {
	suiteName     string
	logLevel      logrus.Level
	customSetup   []func() error
	customCleanup []func() error
}

// TestSuiteComponents are the common collaborators a suite's BeforeEach
// populates and a test body reads back.
type TestSuiteComponents struct {
	Context context.Context
	Logger  *logrus.Logger
}

// NewTestSuiteBuilder starts a builder for suiteName. The name is
// stored on the builder; nothing reads it.
func NewTestSuiteBuilder(suiteName string) *TestSuiteBuilder {
	return &TestSuiteBuilder{
		suiteName:     suiteName,
		logLevel:      logrus.FatalLevel, // suppress logs by default
		customSetup:   make([]func() error, 0),
		customCleanup: make([]func() error, 0),
	}
}

// WithLogLevel sets the level the suite's logger runs at.
func (b *TestSuiteBuilder) WithLogLevel(level logrus.Level) *TestSuiteBuilder {
	b.logLevel = level
	return b
}

// WithCustomSetup adds a setup function run in BeforeEach, after the
// context and logger are ready.
func (b *TestSuiteBuilder) WithCustomSetup(setupFunc func() error) *TestSuiteBuilder {
	b.customSetup = append(b.customSetup, setupFunc)
	return b
}

// WithCustomCleanup adds a cleanup function run in AfterEach.
func (b *TestSuiteBuilder) WithCustomCleanup(cleanupFunc func() error) *TestSuiteBuilder {
	b.customCleanup = append(b.customCleanup, cleanupFunc)
	return b
}

// Build registers BeforeEach/AfterEach against the running Ginkgo
// spec and returns the components they populate.
func (b *TestSuiteBuilder) Build() *TestSuiteComponents {
	components := &TestSuiteComponents{}

	ginkgo.BeforeEach(func() {
		components.Context = context.Background()
		components.Logger = logrus.New()
		components.Logger.SetLevel(b.logLevel)

		for _, setupFunc := range b.customSetup {
			if err := setupFunc(); err != nil {
				ginkgo.Fail("custom setup failed: " + err.Error())
			}
		}
	})

	ginkgo.AfterEach(func() {
		for _, cleanupFunc := range b.customCleanup {
			if err := cleanupFunc(); err != nil {
				ginkgo.Fail("custom cleanup failed: " + err.Error())
			}
		}
	})

	return components
}

// StandardUnitTestSuite builds a suite with a quiet logger and nothing
// else — the common case for pure in-process unit tests.
func StandardUnitTestSuite(suiteName string) *TestSuiteComponents {
	return NewTestSuiteBuilder(suiteName).Build()
}

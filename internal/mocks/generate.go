// Package mocks provides generated mock implementations for testing the
// armada execution pipeline.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the narrow interfaces services depend on. The mocks are generated with
// go:generate directives and provide a fluent API for setting up expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	runner := mocks.NewMockRunner(ctrl)
//	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(dispatch.Result{ExitCode: 0}, nil)
package mocks

// Generate mock for the dispatch.Runner interface.
// This creates MockRunner with the single Run method the executor calls to
// dispatch a rendered command locally or over SSH.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=runner_mock.go github.com/hullcrest/armada/internal/dispatch Runner

// Generate mock for the notify.Channel interface.
// This creates MockChannel with the single Send method delivery adapters
// implement; the notifier accepts it through its ChannelFactory option.
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=channel_mock.go github.com/hullcrest/armada/internal/notify Channel
